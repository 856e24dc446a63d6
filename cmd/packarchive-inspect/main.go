// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command packarchive-inspect opens an archive read-only and prints its
// header capacity, entry count, and data region size. With -keys, it also
// prints every key and its (start, length) descriptor.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dataloom/packarchive"
	"github.com/dataloom/packarchive/log"
)

func main() {
	log.AddFlags()
	keys := flag.Bool("keys", false, "print every key and its descriptor")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: packarchive-inspect [-keys] <archive path>")
		os.Exit(2)
	}
	if err := inspect(flag.Arg(0), *keys); err != nil {
		log.Error.Printf("packarchive-inspect: %v", err)
		os.Exit(1)
	}
}

func inspect(path string, printKeys bool) error {
	reader, err := packarchive.Open(path)
	if err != nil {
		return err
	}
	header := reader.Header()
	fmt.Printf("header capacity (M): %d bytes\n", header.MaxSize())
	fmt.Printf("entries:             %d\n", header.Count())
	fmt.Printf("data region size:    %d bytes\n", header.DataSize())
	if !printKeys {
		return nil
	}
	for i := 0; i < header.Count(); i++ {
		key, d, err := header.At(i)
		if err != nil {
			return err
		}
		fmt.Printf("%s\tstart=%d\tlength=%d\n", key, d.Start, d.Length)
	}
	return nil
}
