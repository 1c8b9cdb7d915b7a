package main

import (
	"github.com/seeme-labs/tutor-bridge/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
