// Package mapdata generates the synthetic map datasets and implements the
// read patterns that go with them: tile elements keyed by a composite
// branch#tile#element id with a millisecond version stamp, and multi-version
// elements keyed (element, version).
package mapdata

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/store"
)

// Element types rotate through roads, points of interest, buildings, land
// cover, and traffic.
var elementTypes = [...]string{"rd", "poi", "bld", "lnd", "trf"}

const msPerDay = 86_400_000

// TileGenerator emits the tile dataset. Every field is a pure function of
// the record index, so a retried or resumed batch rewrites identical items.
//
// Index i maps to branch i%10, tile (i/10)%1000, element type (i/100)%5 and
// a zero-padded element number, spreading writes across partitions while
// keeping the layout predictable enough to query back.
type TileGenerator struct {
	BaseTime int64 // ms since epoch that version stamps count back from
}

// NewTileGenerator pins the version clock to base so the whole run shares
// one reference point.
func NewTileGenerator(base time.Time) *TileGenerator {
	return &TileGenerator{BaseTime: base.UnixMilli()}
}

// Batch returns the records for indexes [offset, offset+size).
func (g *TileGenerator) Batch(offset, size int) []harness.Record {
	records := make([]harness.Record, 0, size)
	for i := offset; i < offset+size; i++ {
		records = append(records, g.record(i))
	}
	return records
}

func (g *TileGenerator) record(i int) harness.Record {
	branch := fmt.Sprintf("branch%d", i%10)
	tile := fmt.Sprintf("t%05d", (i/10)%1000)
	elementType := elementTypes[(i/100)%len(elementTypes)]
	elementID := fmt.Sprintf("%s_%07d", elementType, i%1_000_000)
	value := fmt.Sprintf("value_%d", i)
	sum := md5.Sum([]byte(value))
	tsver := g.BaseTime - int64(i%msPerDay)

	return harness.Record{
		"bte":           &types.AttributeValueMemberS{Value: branch + "#" + tile + "#" + elementID},
		"tsver":         &types.AttributeValueMemberN{Value: strconv.FormatInt(tsver, 10)},
		"branch":        &types.AttributeValueMemberS{Value: branch},
		"tile":          &types.AttributeValueMemberS{Value: tile},
		"element_type":  &types.AttributeValueMemberS{Value: elementType},
		"element_id":    &types.AttributeValueMemberS{Value: elementID},
		"element_value": &types.AttributeValueMemberS{Value: value},
		"element_md5":   &types.AttributeValueMemberS{Value: hex.EncodeToString(sum[:])},
	}
}

// TileIndexName is the GSI that orders a tile's elements by version stamp.
const TileIndexName = "tile-tsver-index"

// TileTableSpec is the table layout the tile dataset loads into.
func TileTableSpec(name string) store.TableSpec {
	return store.TableSpec{
		Name:             name,
		PartitionKey:     "bte",
		PartitionKeyType: types.ScalarAttributeTypeS,
		SortKey:          "tsver",
		SortKeyType:      types.ScalarAttributeTypeN,
		Indexes: []store.IndexSpec{
			{
				Name:             TileIndexName,
				PartitionKey:     "tile",
				PartitionKeyType: types.ScalarAttributeTypeS,
				SortKey:          "tsver",
				SortKeyType:      types.ScalarAttributeTypeN,
			},
		},
	}
}
