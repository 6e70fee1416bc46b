// walletprobe resolves a source handle to its proxy wallet and prints the
// wallet's most recent trades, the same feed the engine mirrors from.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"polymirror/api"
	"polymirror/utils"
)

func main() {
	source := flag.String("source", "", "pseudonym (@handle) or 0x wallet address")
	limit := flag.Int("limit", 10, "trades to fetch")
	flag.Parse()

	if *source == "" {
		log.Fatal("usage: walletprobe --source <@handle|0x...> [--limit n]")
	}

	client := api.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	wallet, err := client.ResolveWallet(ctx, *source)
	if err != nil {
		log.Fatalf("resolution failed: %v", err)
	}
	fmt.Printf("source=%s wallet=%s\n", *source, wallet)

	items, err := client.GetActivity(ctx, wallet, *limit)
	if err != nil {
		log.Fatalf("activity fetch failed: %v", err)
	}

	for _, item := range items {
		ts := time.UnixMilli(item.TimestampMs()).UTC().Format(time.RFC3339)
		fmt.Printf("%s  %-4s %-5s token=%s usdc=%.2f px=%.3f  %s\n",
			ts, item.Side, item.Type, utils.ShortToken(item.Asset),
			float64(item.UsdcSize), float64(item.Price), item.Title)
	}
	if len(items) == 0 {
		fmt.Println("no recent trades")
	}
}
