// bookprobe fetches the live order book for one token and prints the top
// of book, useful for eyeballing the prices the engine will cross against.
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
	tokenID := flag.String("token-id", "", "CLOB token id to probe")
	depth := flag.Int("depth", 5, "levels to print per side")
	flag.Parse()

	if *tokenID == "" {
		log.Fatal("usage: bookprobe --token-id <id> [--depth n]")
	}

	client := api.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	book, err := client.GetBook(ctx, *tokenID)
	if err != nil {
		log.Fatalf("book fetch failed: %v", err)
	}

	fmt.Printf("token=%s bids=%d asks=%d\n", utils.ShortToken(*tokenID), len(book.Bids), len(book.Asks))
	printSide("ASK", book.Asks, *depth)
	printSide("BID", book.Bids, *depth)
}

func printSide(label string, levels []api.OrderBookLevel, depth int) {
	if len(levels) == 0 {
		fmt.Printf("%s  (empty)\n", label)
		return
	}
	if depth > len(levels) {
		depth = len(levels)
	}
	for i := 0; i < depth; i++ {
		fmt.Printf("%s  %.3f x %.2f\n", label, float64(levels[i].Price), float64(levels[i].Size))
	}
}
