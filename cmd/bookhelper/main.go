// Command bookhelper はKOReaderの読書記録とHardcoverのライブラリを
// PostgreSQLの蔵書データベースに同期する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/bookhelper/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bookhelper: %v\n", err)
		os.Exit(1)
	}
}
