package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/Zachkp/bond-site/internal/notice"
	"github.com/Zachkp/bond-site/internal/payload"
	"github.com/Zachkp/bond-site/internal/treemap"
)

var copyRank int

// systemClipboard writes through the platform clipboard utility.
type systemClipboard struct{}

func (systemClipboard) WriteText(_ context.Context, text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

var copyCmd = &cobra.Command{
	Use:   "copy [SECID]",
	Short: "Copy an instrument identifier to the clipboard",
	Long: `copy puts a SECID on the system clipboard, the same way clicking a treemap
cell does on the site. Without an argument it takes the bond at --rank from
the data file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var secid string
		if len(args) == 1 {
			secid = args[0]
		} else {
			secid, err = secidAtRank(cfg.Data.Path, copyRank)
			if err != nil {
				return err
			}
		}

		board := notice.NewBoard(cfg.Server.NoticeDelay)
		board.OnChange = func(msg string, state notice.State) {
			if state == notice.Showing {
				fmt.Fprintln(os.Stderr, msg)
			}
		}
		defer board.Stop()

		h := &treemap.ClickHandler{Clipboard: systemClipboard{}, Notices: board}
		return h.Click(cmd.Context(), secid)
	},
}

// secidAtRank returns the identifier of the rank-th row (1-based).
func secidAtRank(path string, rank int) (string, error) {
	p, err := payload.ReadFile(path)
	if err != nil {
		return "", err
	}
	if rank < 1 || rank > len(p.Rows) {
		return "", fmt.Errorf("rank %d out of range: %s has %d rows", rank, path, len(p.Rows))
	}
	return p.Rows[rank-1].SECID(), nil
}

func init() {
	copyCmd.Flags().IntVar(&copyRank, "rank", 1, "row to copy when no SECID is given")
	rootCmd.AddCommand(copyCmd)
}
