package main

import (
	"context"

	"osticket-helper/cmd/osticket-helper/commands"
	"osticket-helper/internal/components/osutil"
)

func main() {
	ctx, stop := osutil.SignalContext(context.Background())
	defer stop()
	commands.ExecuteContext(ctx)
}
