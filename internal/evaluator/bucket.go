package evaluator

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

const longScale = float64(0xFFFFFFFFFFFFFFF)

// Bucket maps a user into [0, 1) for percentage rollouts. The value is
// stable for a given flag key, salt and user.
func Bucket(user domain.User, flagKey, salt, bucketBy string) float64 {
	if bucketBy == "" {
		bucketBy = "key"
	}

	raw, ok := user.Attribute(bucketBy)
	if !ok {
		return 0
	}

	var id string
	switch v := raw.(type) {
	case string:
		id = v
	case int:
		id = strconv.Itoa(v)
	case int64:
		id = strconv.FormatInt(v, 10)
	case float64:
		if v != float64(int64(v)) {
			return 0
		}
		id = strconv.FormatInt(int64(v), 10)
	default:
		return 0
	}

	if user.Secondary != "" {
		id += "." + user.Secondary
	}

	sum := sha1.Sum([]byte(fmt.Sprintf("%s.%s.%s", flagKey, salt, id)))
	hexed := hex.EncodeToString(sum[:])[:15]

	n, err := strconv.ParseUint(hexed, 16, 64)
	if err != nil {
		return 0
	}

	return float64(n) / longScale
}

// variationForBucket walks the weighted variations. Weights that do not
// cover the full scale leave the remainder to the last variation.
func variationForBucket(r *domain.Rollout, bucket float64) int {
	sum := 0.0
	for _, wv := range r.Variations {
		sum += float64(wv.Weight) / domain.RolloutScale
		if bucket < sum {
			return wv.Variation
		}
	}
	return r.Variations[len(r.Variations)-1].Variation
}
