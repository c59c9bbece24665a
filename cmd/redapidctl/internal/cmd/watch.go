package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/cmd/redapidctl/internal/client"
	"github.com/redapid/server/internal/wire"
)

// WatchCommand streams unsolicited callback frames (process state changes,
// program spawns/scheduler errors, async file completions) as they arrive,
// one JSON object per line.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Stream callback events from the daemon",
		Flags:  []cli.Flag{AddressFlag},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	dec := wire.NewFrameDecoder(cl.Conn())
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			return cli.Exit(fmt.Sprintf("watch: %v", err), 1)
		}
		var cb wire.Callback
		if err := msgpack.Unmarshal(payload, &cb); err != nil {
			fmt.Fprintf(os.Stderr, "watch: decode callback: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stdout, "{\"function_id\":%d,\"body\":%q}\n", cb.FunctionID, cb.Body)
	}
}
