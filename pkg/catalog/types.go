// Package catalog holds the domain model for the catalog ingestion pipeline:
// the Product and Stock entities, validated row input, and the error
// taxonomy shared by every stage.
package catalog

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Product is one catalog item. Its ID is minted at commit time and never
// supplied by callers.
type Product struct {
	ID          string  `json:"id" firestore:"id"`
	Title       string  `json:"title" firestore:"title"`
	Description string  `json:"description" firestore:"description"`
	Price       float64 `json:"price" firestore:"price"`
	Count       int     `json:"count" firestore:"count"`
}

// Stock is the available inventory for a Product. A Stock exists if and only
// if its Product does; the two are committed in a single transaction.
type Stock struct {
	ProductID string `json:"product_id" firestore:"product_id"`
	Count     int    `json:"count" firestore:"count"`
}

// ProductInput is a validated ingestion row, ready for the transactional
// writer.
type ProductInput struct {
	Title       string
	Description string
	Price       float64
	Count       int
}

// ParseInput validates one row's raw fields. Title and description must be
// non-empty, price a non-negative finite number, and count, when present, a
// non-negative integer (absent means 0). Failures carry KindBadInput.
func ParseInput(fields map[string]string) (ProductInput, error) {
	const op = "catalog.ParseInput"

	title := strings.TrimSpace(fields["title"])
	if title == "" {
		return ProductInput{}, Errorf(KindBadInput, op, "title must not be empty")
	}
	description := strings.TrimSpace(fields["description"])
	if description == "" {
		return ProductInput{}, Errorf(KindBadInput, op, "description must not be empty")
	}

	rawPrice := strings.TrimSpace(fields["price"])
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return ProductInput{}, Errorf(KindBadInput, op, "price %q is not a number", rawPrice)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return ProductInput{}, Errorf(KindBadInput, op, "price %q must be a non-negative finite number", rawPrice)
	}

	count := 0
	if rawCount := strings.TrimSpace(fields["count"]); rawCount != "" {
		count, err = strconv.Atoi(rawCount)
		if err != nil {
			return ProductInput{}, Errorf(KindBadInput, op, "count %q is not an integer", rawCount)
		}
		if count < 0 {
			return ProductInput{}, Errorf(KindBadInput, op, "count %q must not be negative", rawCount)
		}
	}

	return ProductInput{
		Title:       title,
		Description: description,
		Price:       price,
		Count:       count,
	}, nil
}

// idNamespace is the fixed UUID namespace for product identifiers.
var idNamespace = uuid.MustParse("8f7d6f2a-31c4-4f5e-9a0b-2d1e8c3b4a59")

// DeterministicID derives the product identifier from the row's content: a
// name-based UUID over a canonical rendering of the fields. The same logical
// row always maps to the same identifier, which makes at-least-once
// redelivery idempotent. Collisions between distinct rows are
// cryptographically negligible; the writer performs no collision-checking
// reads.
func (in ProductInput) DeterministicID() string {
	canonical := strings.Join([]string{
		in.Title,
		in.Description,
		strconv.FormatFloat(in.Price, 'f', -1, 64),
		strconv.Itoa(in.Count),
	}, "\x1f")
	return uuid.NewSHA1(idNamespace, []byte(canonical)).String()
}
