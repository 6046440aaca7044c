//go:build tools

// Package tools pins command line tools used by the Makefile
package tools

import (
	_ "gotest.tools/gotestsum"
)
