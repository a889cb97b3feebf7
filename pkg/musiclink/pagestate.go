package musiclink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nextDataSelector locates the Next.js page state script.
const nextDataSelector = "script#__NEXT_DATA__"

// ErrNoPageState is returned when a page carries no embedded page state.
var ErrNoPageState = errors.New("no embedded page state")

// ParseNextData extracts the JSON page state embedded in html and decodes it into v.
func ParseNextData(html string, v any) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}

	payload := strings.TrimSpace(doc.Find(nextDataSelector).First().Text())
	if payload == "" {
		return ErrNoPageState
	}

	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to decode page state: %w", err)
	}
	return nil
}
