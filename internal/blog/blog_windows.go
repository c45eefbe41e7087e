// +build windows

package blog

import (
	"log"
	"os"
)

var w *log.Logger

func platformInit(tag string) error {
	w = log.New(os.Stderr, tag+": ", log.LstdFlags)
	return nil
}

func platformClose() error {
	return nil
}

func platformWrite(l Level, msg string) {
	if w == nil {
		return
	}
	w.Println(msg)
}
