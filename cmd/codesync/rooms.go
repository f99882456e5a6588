package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"codesync/pkg/types"
)

func roomsCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rooms, err := fetchRooms(ctx, http.DefaultClient, addr)
			if err != nil {
				return err
			}
			printRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:5000", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}

func fetchRooms(ctx context.Context, client *http.Client, addr string) ([]types.RoomSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request rooms: unexpected status %s", resp.Status)
	}

	var body struct {
		Rooms []types.RoomSummary `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func printRooms(w io.Writer, rooms []types.RoomSummary) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, color.Yellow.Render("No active rooms"))
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Room", "Members"})
	table.SetBorder(false)
	for _, room := range rooms {
		table.Append([]string{room.RoomID, strconv.Itoa(room.Members)})
	}
	table.Render()

	fmt.Fprintln(w, color.Green.Sprintf("%d room(s)", len(rooms)))
}
