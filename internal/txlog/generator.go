// Package txlog generates a DEX-style transaction event log and implements
// the account and volume query paths over it. The dataset is deliberately
// skewed: a small hot set of accounts receives a configurable share of the
// events, the long tail gets the rest.
package txlog

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/store"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const addressLen = 44

var (
	eventTypes = [...]string{"SWAP", "ADD_LIQUIDITY", "REMOVE_LIQUIDITY"}
	protocols  = [...]string{"raydium", "orca", "jupiter", "meteora"}
	tokenPairs = [...][2]string{
		{"SOL", "USDC"},
		{"SOL", "USDT"},
		{"JUP", "USDC"},
		{"BONK", "SOL"},
		{"RAY", "USDC"},
		{"ORCA", "SOL"},
	}
)

// Event is one row of the transaction log.
type Event struct {
	AccountAddress      string  `dynamodbav:"account_address"`
	EventID             string  `dynamodbav:"event_id"`
	CounterpartyAddress string  `dynamodbav:"counterparty_address"`
	EventType           string  `dynamodbav:"event_type"`
	BlockNumber         int64   `dynamodbav:"block_number"`
	BlockTime           int64   `dynamodbav:"block_time"`
	TxHash              string  `dynamodbav:"tx_hash"`
	TxIndex             int32   `dynamodbav:"tx_index"`
	LogIndex            int32   `dynamodbav:"log_index"`
	TokenIn             string  `dynamodbav:"token_in"`
	TokenOut            string  `dynamodbav:"token_out"`
	AmountIn            string  `dynamodbav:"amount_in"`
	AmountOut           string  `dynamodbav:"amount_out"`
	VolumeUSD           float64 `dynamodbav:"volume_usd"`
	Price               float64 `dynamodbav:"price"`
	PoolAddress         string  `dynamodbav:"pool_address"`
	Protocol            string  `dynamodbav:"protocol"`
	Status              string  `dynamodbav:"status"`
	CreatedAt           int64   `dynamodbav:"created_at"`
}

// Generator emits events over a fixed account pool. Output is a pure
// function of Seed and the record index: the pool, the hot set, and every
// event field replay identically across runs and retries.
type Generator struct {
	Seed      int64
	HotShare  float64 // fraction of events routed to the hot accounts
	BaseBlock int64
	BaseTime  int64 // seconds since epoch for block_time stamps

	accounts []string
	hot      int // accounts[:hot] form the hot set
	pools    []string
}

// NewGenerator builds the account pool up front. hotCount accounts become
// the hot set receiving hotShare of the traffic.
func NewGenerator(seed int64, accountCount, hotCount int, hotShare float64, baseBlock, baseTime int64) *Generator {
	if accountCount < 1 {
		accountCount = 1
	}
	if hotCount < 0 {
		hotCount = 0
	}
	if hotCount > accountCount {
		hotCount = accountCount
	}
	if hotShare < 0 {
		hotShare = 0
	}
	if hotShare > 1 {
		hotShare = 1
	}

	poolRng := rand.New(rand.NewSource(seed))
	accounts := make([]string, accountCount)
	for i := range accounts {
		accounts[i] = address(poolRng)
	}
	pools := make([]string, len(tokenPairs))
	for i := range pools {
		pools[i] = address(poolRng)
	}

	return &Generator{
		Seed:      seed,
		HotShare:  hotShare,
		BaseBlock: baseBlock,
		BaseTime:  baseTime,
		accounts:  accounts,
		hot:       hotCount,
		pools:     pools,
	}
}

func address(rng *rand.Rand) string {
	var b strings.Builder
	b.Grow(addressLen)
	for i := 0; i < addressLen; i++ {
		b.WriteByte(base58Alphabet[rng.Intn(len(base58Alphabet))])
	}
	return b.String()
}

// HotAccounts returns the hot set in pool order.
func (g *Generator) HotAccounts() []string {
	out := make([]string, g.hot)
	copy(out, g.accounts[:g.hot])
	return out
}

// WriteHotAccounts saves the hot set one address per line, for the query
// tool to target later.
func (g *Generator) WriteHotAccounts(path string) error {
	var b strings.Builder
	for _, acct := range g.accounts[:g.hot] {
		b.WriteString(acct)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write hot accounts: %w", err)
	}
	return nil
}

// Batch returns the records for indexes [offset, offset+size).
func (g *Generator) Batch(offset, size int) []harness.Record {
	records := make([]harness.Record, 0, size)
	for i := offset; i < offset+size; i++ {
		item, err := attributevalue.MarshalMap(g.Event(i))
		if err != nil {
			panic(fmt.Sprintf("marshal event: %v", err))
		}
		records = append(records, item)
	}
	return records
}

// Event builds event number i. Roughly four events share a block.
func (g *Generator) Event(i int) Event {
	rng := rand.New(rand.NewSource(g.Seed ^ int64(i)*0x9e3779b9))

	var account string
	if g.hot > 0 && rng.Float64() < g.HotShare {
		account = g.accounts[rng.Intn(g.hot)]
	} else if g.hot < len(g.accounts) {
		account = g.accounts[g.hot+rng.Intn(len(g.accounts)-g.hot)]
	} else {
		account = g.accounts[rng.Intn(len(g.accounts))]
	}

	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		panic(fmt.Sprintf("generate event uuid: %v", err))
	}

	block := g.BaseBlock + int64(i/4)
	pair := tokenPairs[rng.Intn(len(tokenPairs))]
	volume := 10 + rng.Float64()*499_990 // 10 USD to 500k USD
	price := 0.0001 + rng.Float64()*250
	amountIn := volume / price

	return Event{
		AccountAddress:      account,
		EventID:             id.String(),
		CounterpartyAddress: address(rng),
		EventType:           eventTypes[rng.Intn(len(eventTypes))],
		BlockNumber:         block,
		BlockTime:           g.BaseTime + (block - g.BaseBlock),
		TxHash:              txHash(rng),
		TxIndex:             int32(rng.Intn(1500)),
		LogIndex:            int32(rng.Intn(20)),
		TokenIn:             pair[0],
		TokenOut:            pair[1],
		AmountIn:            fmt.Sprintf("%.6f", amountIn),
		AmountOut:           fmt.Sprintf("%.6f", volume),
		VolumeUSD:           float64(int64(volume*100)) / 100, // two decimals
		Price:               price,
		PoolAddress:         g.pools[rng.Intn(len(g.pools))],
		Protocol:            protocols[rng.Intn(len(protocols))],
		Status:              "confirmed",
		CreatedAt:           (g.BaseTime + (block - g.BaseBlock)) * 1000,
	}
}

func txHash(rng *rand.Rand) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(64)
	for i := 0; i < 64; i++ {
		b.WriteByte(hexDigits[rng.Intn(16)])
	}
	return b.String()
}

// VolumeIndexName is the GSI that orders an event type by traded volume.
const VolumeIndexName = "volume-index"

// TableSpec is the table layout the transaction log loads into.
func TableSpec(name string) store.TableSpec {
	return store.TableSpec{
		Name:             name,
		PartitionKey:     "account_address",
		PartitionKeyType: types.ScalarAttributeTypeS,
		SortKey:          "event_id",
		SortKeyType:      types.ScalarAttributeTypeS,
		Indexes: []store.IndexSpec{
			{
				Name:             VolumeIndexName,
				PartitionKey:     "event_type",
				PartitionKeyType: types.ScalarAttributeTypeS,
				SortKey:          "volume_usd",
				SortKeyType:      types.ScalarAttributeTypeN,
			},
		},
	}
}
