// Command bpindex runs insert/delete/find command streams against an index
// file and inspects its structure.
//
// Usage:
//
//	bpindex -p data.db < commands.txt
//	bpindex -p data.db inspect
//	bpindex -p data.db verify
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
