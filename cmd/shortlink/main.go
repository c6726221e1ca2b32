// Command shortlink はURL短縮サービスを起動する。
//
// 使い方:
//
//	shortlink [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/shortlink/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shortlink: %v\n", err)
		os.Exit(1)
	}
}
