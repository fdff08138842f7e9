package mapdata

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/store"
)

var (
	blocks = [...]string{
		"downtown_block_1", "downtown_block_2", "downtown_block_3",
		"riverside_block_1", "riverside_block_2",
		"industrial_block_1", "industrial_block_2",
		"harbor_block_1", "airport_block_1", "campus_block_1",
	}
	elementStatuses = [...]string{"active", "inactive", "pending"}
)

// VersionedElement is one row of the multi-version element table: the same
// element id repeats once per version, newest version highest.
type VersionedElement struct {
	EleID     string `dynamodbav:"ele_id"`
	Version   int64  `dynamodbav:"version"`
	BlockID   string `dynamodbav:"block_id"`
	Status    string `dynamodbav:"status"`
	Payload   string `dynamodbav:"payload"`
	UpdatedBy string `dynamodbav:"updated_by"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// ElementGenerator emits Versions rows per element. Record index i covers
// element i/Versions at version i%Versions+1, so a contiguous index range
// always carries whole elements plus at most one partial tail.
//
// Randomized fields are drawn from a source seeded per element, which keeps
// the output a pure function of Seed and the index. The uuid suffix in the
// element id is stable across all versions of that element.
type ElementGenerator struct {
	Seed     int64
	Versions int   // rows per element, at least 1
	BaseTime int64 // ms since epoch for created_at stamps
}

// NewElementGenerator returns a generator writing versions rows per element.
func NewElementGenerator(seed int64, versions int, base time.Time) *ElementGenerator {
	if versions < 1 {
		versions = 1
	}
	return &ElementGenerator{Seed: seed, Versions: versions, BaseTime: base.UnixMilli()}
}

// Batch returns the records for indexes [offset, offset+size).
func (g *ElementGenerator) Batch(offset, size int) []harness.Record {
	records := make([]harness.Record, 0, size)
	for i := offset; i < offset+size; i++ {
		records = append(records, mustItem(g.row(i)))
	}
	return records
}

func (g *ElementGenerator) row(i int) VersionedElement {
	element := i / g.Versions
	version := int64(i%g.Versions) + 1

	// One source per element for the identity fields, one per row for the
	// version fields. Both are derived from the seed, never from the clock.
	idRng := rand.New(rand.NewSource(g.Seed + int64(element)))
	rowRng := rand.New(rand.NewSource(g.Seed ^ int64(i)*0x9e3779b9))

	id, err := uuid.NewRandomFromReader(idRng)
	if err != nil {
		panic(fmt.Sprintf("generate element uuid: %v", err))
	}
	suffix := id.String()[:8]

	return VersionedElement{
		EleID:     fmt.Sprintf("element_%d_%s", element, suffix),
		Version:   version,
		BlockID:   blocks[idRng.Intn(len(blocks))],
		Status:    elementStatuses[rowRng.Intn(len(elementStatuses))],
		Payload:   fmt.Sprintf("payload_%d_v%d_%08x", element, version, rowRng.Uint32()),
		UpdatedBy: fmt.Sprintf("editor_%d", rowRng.Intn(50)),
		CreatedAt: g.BaseTime + version*60_000,
	}
}

// mustItem marshals a statically shaped struct. A failure here is a
// programming error in the struct tags, not a runtime condition.
func mustItem(v any) harness.Record {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		panic(fmt.Sprintf("marshal item: %v", err))
	}
	return item
}

// ElementIndexName is the GSI that orders a block's rows by version.
const ElementIndexName = "block-version-index"

// ElementTableSpec is the table layout the versioned element dataset loads
// into.
func ElementTableSpec(name string) store.TableSpec {
	return store.TableSpec{
		Name:             name,
		PartitionKey:     "ele_id",
		PartitionKeyType: types.ScalarAttributeTypeS,
		SortKey:          "version",
		SortKeyType:      types.ScalarAttributeTypeN,
		Indexes: []store.IndexSpec{
			{
				Name:             ElementIndexName,
				PartitionKey:     "block_id",
				PartitionKeyType: types.ScalarAttributeTypeS,
				SortKey:          "version",
				SortKeyType:      types.ScalarAttributeTypeN,
			},
		},
	}
}
