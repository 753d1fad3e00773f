// Command signinbridge はOAuthコールバックを受けてIDストアのサインインリンクへ橋渡しするサーバー。
//
// 使い方:
//
//	signinbridge [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/signinbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "signinbridge: %v\n", err)
		os.Exit(1)
	}
}
