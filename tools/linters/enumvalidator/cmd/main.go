package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"cyodesign.app/atelier/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
