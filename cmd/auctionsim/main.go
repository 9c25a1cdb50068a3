// auctionsim floods a single in-memory lot with concurrent bidders, then
// finishes the auction and checks the engine's conservation guarantees:
// exactly one winner holds the asset, every loser got their escrow back in
// full, and no payment token was created or destroyed.
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
	"github.com/zcoinlabs/zmarket/internal/core/service"
	"github.com/zcoinlabs/zmarket/internal/core/token"
)

const (
	totalBidders = 50
	assetID      = 7
	assetAmount  = 42
	queueSize    = 4096
)

func main() {
	ctx := context.Background()

	marketAddr := common.HexToAddress("0x00000000000000000000000000000000000a4c7e")
	seller := common.HexToAddress("0x0000000000000000000000000000000000005e11")

	coin := token.NewCoin("Zcoin", "ZCN", marketAddr)
	unique := token.NewUniqueRegistry("SUPER ERC 721 NFT", "ZERC721", "sim://u/", marketAddr)
	quantity := token.NewQuantityRegistry("SUPER ERC 1155 NFT", "ZERC1155", "sim://q/", marketAddr)
	market := service.NewMarket(marketAddr, coin, unique, quantity, queueSize)

	// Simulated clock so the deadline can be crossed without waiting 3 days.
	var clock atomic.Int64
	clock.Store(time.Now().Unix())
	market.SetNowFunc(clock.Load)

	// Drain transition signals in the background.
	go func() {
		for range market.Events() {
		}
	}()

	funding := service.Coins(totalBidders + 1)
	bidders := make([]common.Address, totalBidders)
	for i := range bidders {
		bidders[i] = common.BigToAddress(big.NewInt(int64(i + 1000)))
		if err := coin.Mint(marketAddr, bidders[i], funding); err != nil {
			log.Fatalf("fund bidder %d: %v", i, err)
		}
		if err := coin.Approve(bidders[i], marketAddr, funding); err != nil {
			log.Fatalf("approve bidder %d: %v", i, err)
		}
	}
	supplyBefore := coin.TotalSupply()

	ref, err := market.CreateItem(ctx, seller, domain.AssetQuantity, assetID, assetAmount)
	if err != nil {
		log.Fatalf("mint asset: %v", err)
	}
	quantity.SetApprovalForAll(seller, marketAddr, true)
	lotID, err := market.ListItemOnAuction(ctx, seller, ref)
	if err != nil {
		log.Fatalf("list lot: %v", err)
	}

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i, bidder := range bidders {
		wg.Add(1)
		go func(i int, bidder common.Address) {
			defer wg.Done()
			if err := market.MakeBid(ctx, bidder, lotID, service.Coins(int64(i+1))); err == nil {
				accepted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(i, bidder)
	}
	wg.Wait()
	elapsed := time.Since(start)

	lot, err := market.GetLot(ctx, lotID)
	if err != nil {
		log.Fatalf("get lot: %v", err)
	}
	clock.Add(int64(domain.AuctionDuration/time.Second) + 1)
	if err := market.FinishAuction(ctx, bidders[0], lotID); err != nil {
		log.Fatalf("finish auction: %v", err)
	}

	fmt.Println("========== AUCTION SIM RESULTS ==========")
	fmt.Printf("Bidders:          %d\n", totalBidders)
	fmt.Printf("Accepted bids:    %d\n", accepted.Load())
	fmt.Printf("Rejected bids:    %d\n", rejected.Load())
	fmt.Printf("Winning bid:      %s\n", lot.LastBidAmount)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=========================================")

	pass := true

	if int(accepted.Load()) != int(lot.BidsCount) {
		pass = false
		fmt.Printf("FAIL: accepted %d bids but lot counted %d\n", accepted.Load(), lot.BidsCount)
	}

	// The winner is the only account down by exactly the winning bid; every
	// other bidder must be fully refunded.
	for i, bidder := range bidders {
		balance := coin.BalanceOf(bidder)
		if bidder == lot.LastBidder {
			want := new(big.Int).Sub(funding, lot.LastBidAmount)
			if balance.Cmp(want) != 0 {
				pass = false
				fmt.Printf("FAIL: winner balance %s, want %s\n", balance, want)
			}
			continue
		}
		if balance.Cmp(funding) != 0 {
			pass = false
			fmt.Printf("FAIL: bidder %d balance %s, want full refund %s\n", i, balance, funding)
		}
	}

	if got := coin.BalanceOf(seller); got.Cmp(lot.LastBidAmount) != 0 {
		pass = false
		fmt.Printf("FAIL: seller received %s, want %s\n", got, lot.LastBidAmount)
	}
	if got := coin.BalanceOf(marketAddr); got.Sign() != 0 {
		pass = false
		fmt.Printf("FAIL: escrow not drained: %s\n", got)
	}
	if got := quantity.BalanceOf(lot.LastBidder, assetID); got != assetAmount {
		pass = false
		fmt.Printf("FAIL: winner holds %d units, want %d\n", got, assetAmount)
	}
	if got := coin.TotalSupply(); got.Cmp(supplyBefore) != 0 {
		pass = false
		fmt.Printf("FAIL: supply changed: %s -> %s\n", supplyBefore, got)
	}

	if pass {
		fmt.Println("PASS: escrow conserved, one winner, all losers refunded")
	}
}
