// Package insight asks a Gemini model to read receipts and to comment on a
// month of spending.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/stats"
)

const DefaultModelName = "gemini-2.0-flash"

// ReceiptCategories are the categories the model may suggest for a receipt.
var ReceiptCategories = []string{
	"housing", "transportation", "groceries", "utilities", "entertainment",
	"food", "shopping", "healthcare", "education", "personal", "travel",
	"insurance", "gifts", "bills", "other-expense",
}

// FallbackInsights are used when the model cannot produce insights.
var FallbackInsights = []string{
	"Your highest expense category this month might need attention.",
	"Consider setting up a budget for better financial management.",
	"Track your recurring expenses to identify potential savings.",
}

// Generator produces model text for a list of prompt parts.
type Generator interface {
	Generate(ctx context.Context, parts []*genai.Part) (string, error)
}

type gemini struct {
	client *genai.Client
	model  string
}

// NewGemini returns a Generator backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (Generator, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &gemini{client: client, model: model}, nil
}

func (g *gemini) Generate(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: generate content: %v", core.ErrExternalService, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response from model", core.ErrExternalService)
	}
	return text, nil
}

// Receipt is what the model extracted from a receipt image.
type Receipt struct {
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	MerchantName string          `json:"merchantName"`
	Category     string          `json:"category"`
}

type Service struct {
	gen      Generator
	insights *cache.LRUCache[[]string]
	logger   *log.Logger
}

func NewService(gen Generator, insights *cache.LRUCache[[]string]) *Service {
	return &Service{gen: gen, insights: insights, logger: log.For(log.ComponentInsight)}
}

const receiptPrompt = `Analyze this receipt image and extract the following information in JSON format:
- Total amount (just the number)
- Date (in ISO format)
- Description or items purchased (brief summary)
- Merchant/store name
- Suggested category (one of: %s)

Only respond with valid JSON in this exact format:
{"amount": number, "date": "ISO date string", "description": "string", "merchantName": "string", "category": "string"}

If it is not a receipt, return an empty object.`

// ScanReceipt extracts a receipt from an image. An unreadable answer or an
// image that is not a receipt yields core.ErrInvalidInput.
func (s *Service) ScanReceipt(ctx context.Context, image []byte, mimeType string) (Receipt, error) {
	if len(image) == 0 {
		return Receipt{}, fmt.Errorf("%w: empty image", core.ErrInvalidInput)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return Receipt{}, fmt.Errorf("%w: unsupported content type %q", core.ErrInvalidInput, mimeType)
	}

	raw, err := s.gen.Generate(ctx, []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		{Text: fmt.Sprintf(receiptPrompt, strings.Join(ReceiptCategories, ","))},
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("scan receipt: %w", err)
	}
	return parseReceipt(raw)
}

func parseReceipt(raw string) (Receipt, error) {
	var body struct {
		Amount       *decimal.Decimal `json:"amount"`
		Date         string           `json:"date"`
		Description  string           `json:"description"`
		MerchantName string           `json:"merchantName"`
		Category     string           `json:"category"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw, '{', '}')), &body); err != nil {
		return Receipt{}, fmt.Errorf("%w: invalid response format from model: %v", core.ErrInvalidInput, err)
	}
	if body.Amount == nil {
		return Receipt{}, fmt.Errorf("%w: image is not a receipt", core.ErrInvalidInput)
	}
	date, err := parseDate(body.Date)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: receipt date %q", core.ErrInvalidInput, body.Date)
	}
	return Receipt{
		Amount:       body.Amount.Abs().Round(core.MoneyScale),
		Date:         date,
		Description:  body.Description,
		MerchantName: body.MerchantName,
		Category:     strings.ToLower(strings.TrimSpace(body.Category)),
	}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognised date")
}

const insightsPrompt = `Analyze this financial data and provide 3 concise, actionable insights.
Focus on spending patterns and practical advice.
Keep it friendly and conversational.

Financial Data for %s:
- Total Income: %s
- Total Expenses: %s
- Net Income: %s
- Expense Categories: %s

Format the response as a JSON array of strings, like this:
["insight 1", "insight 2", "insight 3"]`

// MonthlyInsights asks the model for advice on one month of statistics.
// Answers are cached per owner and month.
func (s *Service) MonthlyInsights(ctx context.Context, ownerID string, st stats.MonthlyStats) ([]string, error) {
	key := ownerID + "|" + st.Month.Format("2006-01")
	if s.insights != nil {
		if cached, ok := s.insights.Get(key); ok {
			return cached, nil
		}
	}

	var cats []string
	for _, c := range st.Categories() {
		cats = append(cats, c.Category+": "+c.Amount.StringFixed(2))
	}
	prompt := fmt.Sprintf(insightsPrompt,
		st.Month.Format("January 2006"),
		st.TotalIncome.StringFixed(2),
		st.TotalExpenses.StringFixed(2),
		st.Net().StringFixed(2),
		strings.Join(cats, ", "))

	raw, err := s.gen.Generate(ctx, []*genai.Part{{Text: prompt}})
	if err != nil {
		return nil, fmt.Errorf("generate insights: %w", err)
	}

	var insights []string
	if err := json.Unmarshal([]byte(cleanModelJSON(raw, '[', ']')), &insights); err != nil {
		return nil, fmt.Errorf("%w: insights are not a JSON array of strings: %v", core.ErrInvalidInput, err)
	}
	if s.insights != nil {
		s.insights.Set(key, insights)
	}
	return insights, nil
}

// MonthlyInsightsOrFallback never fails; model errors are logged and the
// canned insights are returned instead.
func (s *Service) MonthlyInsightsOrFallback(ctx context.Context, ownerID string, st stats.MonthlyStats) []string {
	if s == nil {
		return FallbackInsights
	}
	insights, err := s.MonthlyInsights(ctx, ownerID, st)
	if err != nil || len(insights) == 0 {
		s.logger.WarnContext(ctx, "Falling back to default insights",
			log.FieldOwnerID, ownerID,
			log.FieldError, err)
		return FallbackInsights
	}
	return insights
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// open/close pair.
func cleanModelJSON(raw string, open, close byte) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.IndexByte(s, open); start != -1 {
		if end := strings.LastIndexByte(s, close); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
