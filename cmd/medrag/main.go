// Package main is the entry point for the medrag service.
package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/kart-io/medrag/cmd/medrag/app"
)

func main() {
	app.NewApp().Run()
}
