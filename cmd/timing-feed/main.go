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
)

// TimeSubmission represents a raw timing row on the feed
type TimeSubmission struct {
	GameID     string            `json:"game_id"`
	RaceID     string            `json:"race_id"`
	AthleteID  string            `json:"athlete_id"`
	Gender     string            `json:"gender"`
	FinishTime string            `json:"finish_time"`
	Splits     map[string]string `json:"splits,omitempty"`
}

var athletePrefixes = []string{
	"Kipchoge", "Bekele", "Gebrselassie", "Kosgei", "Radcliffe", "Assefa", "Kiptum", "Tola",
	"Hassan", "Jepchirchir", "Kamworor", "Cherono", "Legese", "Dibaba", "Keitany", "Salpeter",
	"Chebet", "Kipruto", "Adola", "Yehualaw", "Obiri", "Korir", "Lemma", "Gidey",
}

func athleteName(idx int) string {
	prefixIdx := idx % len(athletePrefixes)
	suffix := idx/len(athletePrefixes) + 1
	return fmt.Sprintf("%s-%d", athletePrefixes[prefixIdx], suffix)
}

// clockTime renders milliseconds as H:MM:SS
func clockTime(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "race-timing", "Kafka topic")
	gameID := flag.String("game", "game1", "Game ID")
	raceID := flag.String("race", "berlin-2026", "Race ID")
	totalAthletes := flag.Int("athletes", 200, "Number of athletes per gender cohort")
	rate := flag.Int("rate", 50, "Timing rows per second")
	dnfPercent := flag.Int("dnf", 5, "Percent of athletes that DNF")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🏃 Race Timing Feed Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Game / Race:      %s / %s\n", *gameID, *raceID)
	fmt.Printf("  Athletes:         %d per cohort\n", *totalAthletes)
	fmt.Printf("  Rows/sec:         %d\n", *rate)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
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

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(sub TimeSubmission) {
		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.AthleteID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	// simulate produces one athlete's row. Finish times spread out behind an
	// elite winner; the half splits carry a random imbalance so some of the
	// field runs a negative split.
	simulate := func(idx int, gender string, baseMs int64) TimeSubmission {
		sub := TimeSubmission{
			GameID:    *gameID,
			RaceID:    *raceID,
			AthleteID: fmt.Sprintf("%s-%s", gender[:1], athleteName(idx)),
			Gender:    gender,
		}

		if rand.Intn(100) < *dnfPercent {
			sub.FinishTime = "DNF"
			return sub
		}

		// Winner near the base time, tail up to ~90 minutes back
		spreadMs := int64(idx) * int64(rand.Intn(20000)+8000)
		finishMs := baseMs + spreadMs

		// Split the race into halves with up to ±3 minutes of imbalance
		imbalance := int64(rand.Intn(360000)) - 180000
		firstHalf := finishMs/2 + imbalance/2
		secondHalf := finishMs - firstHalf

		sub.FinishTime = clockTime(finishMs)
		sub.Splits = map[string]string{
			"first_half":  clockTime(firstHalf),
			"second_half": clockTime(secondHalf),
		}
		return sub
	}

	interval := time.Second / time.Duration(*rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	type pending struct {
		idx    int
		gender string
		baseMs int64
	}

	// Interleave the two cohorts in finish order
	queue := make([]pending, 0, *totalAthletes*2)
	for i := 0; i < *totalAthletes; i++ {
		queue = append(queue, pending{idx: i, gender: "male", baseMs: 7290000})   // ~2:01:30
		queue = append(queue, pending{idx: i, gender: "female", baseMs: 8100000}) // ~2:15:00
	}

	fmt.Printf("Emitting %d timing rows...\n", len(queue))
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sent := 0
	finish := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			finish()
			return

		case <-ticker.C:
			if sent >= len(queue) {
				fmt.Println("\nAll timing rows emitted, shutting down...")
				finish()
				return
			}
			p := queue[sent]
			sendMessage(simulate(p.idx, p.gender, p.baseMs))
			sent++

		case <-statsTicker.C:
			fmt.Printf("[%s] Emitted: %d/%d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				sent,
				len(queue),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
