// main.go
package main

import (
	"Tradewarden/cmd"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const banner = `
  _____              _                              _
 |_   _| __ __ _  __| | _____      ____ _ _ __ __| | ___ _ __
   | || '__/ _' |/ _' |/ _ \ \ /\ / / _' | '__/ _' |/ _ \ '_ \
   | || | | (_| | (_| |  __/\ V  V / (_| | | | (_| |  __/ | | |
   |_||_|  \__,_|\__,_|\___| \_/\_/ \__,_|_|  \__,_|\___|_| |_|

	Signal-driven spot trading with hard exits
[]=========================================================================[]
`

func main() {
	fmt.Print(banner)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd.Execute(ctx)
}
