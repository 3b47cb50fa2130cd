// Package generator synthesises the trade rows streamed into the target store.
package generator

import (
	"strconv"
	"time"

	"k8s.io/utils/clock"
)

// TimestampLayout is the layout of the ctime column.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	minUserKey   = 100000
	userKeyRange = 1000000
	// Number of distinct qty and px values.
	decimalCycle = 9000
)

// TimestampMode controls how the timestamp column is populated.
type TimestampMode string

const (
	// FixedTimestamp reuses a single timestamp for every row of a shard. The value is offset by the shard seed
	// in seconds so that shards don't collide on it.
	FixedTimestamp TimestampMode = "fixed"
	// PerRowTimestamp reads the clock for every row.
	PerRowTimestamp TimestampMode = "perRow"
)

type Symbol uint8

const (
	BTCUSDT Symbol = iota
	ETHUSDT
	SOLUSDT
	numSymbols
)

var symbolNames = [numSymbols]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

func (s Symbol) String() string {
	if s >= numSymbols {
		return "UNKNOWN"
	}
	return symbolNames[s]
}

// Lookup tables for the decimal columns, which only take decimalCycle distinct values.
var (
	quantities [decimalCycle]string
	prices     [decimalCycle]string
)

func init() {
	for i := 0; i < decimalCycle; i++ {
		suffix := strconv.Itoa(1000 + i)
		quantities[i] = "1." + suffix
		prices[i] = "100." + suffix
	}
}

// Record is one row of the user_trade table.
type Record struct {
	UserKey   int64
	Symbol    Symbol
	Quantity  string
	Price     string
	Timestamp string
}

// Generator produces the rows of one or more shards.
// In FixedTimestamp mode the output is a pure function of (rowIndex, shardSeed).
// A Generator caches the formatted timestamp of the last seed it saw and so is not safe for concurrent use;
// create one per shard.
type Generator struct {
	mode  TimestampMode
	clock clock.PassiveClock
	start time.Time

	cachedSeed int64
	cachedTs   string
	cached     bool
}

// New creates a Generator. The fixed timestamps are derived from the clock's time at construction.
func New(mode TimestampMode, clock clock.PassiveClock) *Generator {
	return &Generator{
		mode:  mode,
		clock: clock,
		start: clock.Now(),
	}
}

// Generate returns the row at rowIndex of the shard identified by shardSeed.
func (g *Generator) Generate(rowIndex int64, shardSeed int64) Record {
	cycle := rowIndex % decimalCycle
	return Record{
		UserKey:   UserKey(rowIndex, shardSeed),
		Symbol:    Symbol(rowIndex % int64(numSymbols)),
		Quantity:  quantities[cycle],
		Price:     prices[cycle],
		Timestamp: g.timestamp(shardSeed),
	}
}

func (g *Generator) timestamp(shardSeed int64) string {
	if g.mode == PerRowTimestamp {
		return g.clock.Now().Format(TimestampLayout)
	}
	if !g.cached || g.cachedSeed != shardSeed {
		g.cachedTs = g.start.Add(time.Duration(shardSeed) * time.Second).Format(TimestampLayout)
		g.cachedSeed = shardSeed
		g.cached = true
	}
	return g.cachedTs
}

// UserKey returns a key uniformly distributed over [100000, 1100000). It depends only on its arguments, so any row
// can be regenerated without replaying the rows before it.
func UserKey(rowIndex int64, shardSeed int64) int64 {
	stream := uint64(shardSeed*1009+7) * 0x9e3779b97f4a7c15
	return minUserKey + int64(splitmix64(stream+uint64(rowIndex))%userKeyRange)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// AppendCSV appends the comma separated, newline terminated serialisation of r to dst.
// The column order is user_id, symbol, qty, px, ctime.
func AppendCSV(dst []byte, r Record) []byte {
	dst = strconv.AppendInt(dst, r.UserKey, 10)
	dst = append(dst, ',')
	dst = append(dst, r.Symbol.String()...)
	dst = append(dst, ',')
	dst = append(dst, r.Quantity...)
	dst = append(dst, ',')
	dst = append(dst, r.Price...)
	dst = append(dst, ',')
	dst = append(dst, r.Timestamp...)
	return append(dst, '\n')
}

// Columns returns the target table columns in the order AppendCSV writes them.
func Columns() []string {
	return []string{"user_id", "symbol", "qty", "px", "ctime"}
}

// EstimateSize serialises a sample of rows and extrapolates the number of bytes needed for rows rows.
func EstimateSize(g *Generator, rows int64, shardSeed int64) int64 {
	const sampleSize = 1000
	sample := int64(sampleSize)
	if rows < sample {
		sample = rows
	}
	if sample <= 0 {
		return 0
	}
	var buf []byte
	for i := int64(0); i < sample; i++ {
		buf = AppendCSV(buf, g.Generate(i, shardSeed))
	}
	return int64(len(buf)) * rows / sample
}
