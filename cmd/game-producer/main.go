package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rps-rewards/internal/domain"
)

var losingResults = []string{"lose", "draw"}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-results", "Kafka topic")
	wallets := flag.String("wallets", "", "Wallet addresses to report games for (comma-separated)")
	rate := flag.Int("rate", 5, "Game results per second")
	count := flag.Int("count", 0, "Number of results to send (0 = until interrupted)")
	winRatio := flag.Float64("win-ratio", 0.33, "Fraction of results that are wins")
	flag.Parse()

	walletList := strings.Split(*wallets, ",")
	if *wallets == "" {
		log.Fatal("at least one wallet address is required (-wallets)")
	}
	if *rate <= 0 {
		log.Fatal("rate must be positive")
	}

	fmt.Println("Game result producer")
	fmt.Printf("  Brokers:   %s\n", *brokers)
	fmt.Printf("  Topic:     %s\n", *topic)
	fmt.Printf("  Wallets:   %d\n", len(walletList))
	fmt.Printf("  Rate:      %d/sec\n", *rate)
	fmt.Printf("  Win ratio: %.2f\n", *winRatio)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	finish := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-sigChan:
			finish("Shutting down...")
			return

		case <-ticker.C:
			if *count > 0 && sent >= *count {
				finish("Done.")
				return
			}

			result := domain.GameResult{
				PlayerAddress: walletList[rand.Intn(len(walletList))],
				Result:        losingResults[rand.Intn(len(losingResults))],
				GameID:        uuid.NewString(),
			}
			if rand.Float64() < *winRatio {
				result.Result = domain.ResultWin
			}

			data, err := json.Marshal(result)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}

			// Keyed by wallet so one player's games stay ordered
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(result.PlayerAddress),
				Value: sarama.ByteEncoder(data),
			}
			sent++
		}
	}
}
