package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

func DecodeCursor(cursor *string) (string, error) {
	decodedCursor := ""
	if cursor != nil {
		b, err := base64.StdEncoding.DecodeString(*cursor)
		if err != nil {
			return decodedCursor, err
		}
		decodedCursor = string(b)
	}
	return decodedCursor, nil
}

func EncodeCursor(cursor string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

// Composite cursors carry "<orderDate>|<id>" for stable keyset pagination of
// the ledger.
func DecodeCompositeCursor(cursor *string) (string, string) {
	if cursor == nil || *cursor == "" {
		return "", ""
	}

	decoded, err := base64.StdEncoding.DecodeString(*cursor)
	if err != nil {
		return "", ""
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func EncodeCompositeCursor(orderDate string, id string) string {
	cursor := fmt.Sprintf("%s|%s", orderDate, id)
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

func ParseLimit(raw string, def, max int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
