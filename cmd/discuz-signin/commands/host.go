package commands

import (
	"discuz-signin/internal/scrapers/discuz"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func newHostCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Prints the forum host the announcement page (PUB_URL) currently points to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			if a.cfg.Forum.PubUrl == "" {
				return errors.New("no announcement page configured, set PUB_URL or forum.pub_url")
			}
			timeout, err := parseDuration("forum.timeout", a.cfg.Forum.Timeout)
			if err != nil {
				return err
			}

			host := discuz.ResolveHost(
				cmd.Context(),
				resty.New().SetTimeout(timeout),
				a.cfg.Forum.PubUrl,
				"",
				a.tel,
			)
			if host == "" {
				return errors.New("the announcement page did not link to a forum")
			}
			fmt.Fprintln(a.env.Stdout, host)
			return nil
		},
	}
}
