package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/api/rendezvoushandler"
	"github.com/ruteri/mpc-rendezvous/api/storehandler"
	"github.com/ruteri/mpc-rendezvous/cmd/flags"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/urfave/cli/v2"
)

var sessionFlag = &cli.StringFlag{
	Name:     "session",
	Required: true,
	Usage:    "session token returned by init",
}
var thresholdFlag = &cli.UintFlag{
	Name:     "threshold",
	Required: true,
	Usage:    "number of parties per round",
}
var shareCountFlag = &cli.UintFlag{
	Name:  "share-count",
	Usage: "total number of key shares (informational)",
}
var keyFlag = &cli.StringFlag{
	Name:     "key",
	Required: true,
	Usage:    "store key",
}
var valueFlag = &cli.StringFlag{
	Name:     "value",
	Required: true,
	Usage:    "value to store",
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:  "rendezvous-client",
		Usage: "Talk to a rendezvous server",
		Flags: []cli.Flag{flags.ServerURLFlag},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create a new session",
				Action: func(cCtx *cli.Context) error {
					token, err := rendezvoushandler.InitializeSession(cCtx.String(flags.ServerURLFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(api.InitializeSessionResponse{SessionToken: token})
				},
			},
			{
				Name:  "join",
				Usage: "Request a party index in a session",
				Flags: []cli.Flag{sessionFlag, thresholdFlag, shareCountFlag},
				Action: func(cCtx *cli.Context) error {
					threshold := cCtx.Uint(thresholdFlag.Name)
					shareCount := cCtx.Uint(shareCountFlag.Name)
					if threshold == 0 || threshold > 0xffff || shareCount > 0xffff {
						return fmt.Errorf("threshold and share count must be in 1..65535")
					}

					assignment, err := rendezvoushandler.Join(cCtx.String(flags.ServerURLFlag.Name), api.JoinRequest{
						Threshold:    uint16(threshold),
						ShareCount:   uint16(shareCount),
						SessionToken: interfaces.SessionToken(cCtx.String(sessionFlag.Name)),
					})
					if err != nil {
						return err
					}
					return printJSON(assignment)
				},
			},
			{
				Name:  "get",
				Usage: "Read a raw store value",
				Flags: []cli.Flag{keyFlag},
				Action: func(cCtx *cli.Context) error {
					value, err := storehandler.Get(cCtx.String(flags.ServerURLFlag.Name), cCtx.String(keyFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(api.Entry{Key: cCtx.String(keyFlag.Name), Value: value})
				},
			},
			{
				Name:  "set",
				Usage: "Write a raw store value",
				Flags: []cli.Flag{keyFlag, valueFlag},
				Action: func(cCtx *cli.Context) error {
					version, err := storehandler.Set(cCtx.String(flags.ServerURLFlag.Name), cCtx.String(keyFlag.Name), cCtx.String(valueFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(api.SetResponse{Key: cCtx.String(keyFlag.Name), Version: version})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
