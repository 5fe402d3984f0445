package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ops-agent/internal/domain"
	"ops-agent/internal/session"
)

type fakeLLM struct {
	mu       sync.Mutex
	classify func(req domain.GenerateRequest) (string, error)
	clarify  func(req domain.GenerateRequest) (string, error)
	requests []domain.GenerateRequest
}

func (f *fakeLLM) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.Schema != nil {
		if f.classify == nil {
			return "", errors.New("no classify stub")
		}
		return f.classify(req)
	}
	if f.clarify == nil {
		return "", errors.New("no clarify stub")
	}
	return f.clarify(req)
}

func reply(s string) func(domain.GenerateRequest) (string, error) {
	return func(domain.GenerateRequest) (string, error) { return s, nil }
}

func newTestClassifier(t *testing.T, llm *fakeLLM, store Store) *Classifier {
	t.Helper()
	c, err := New(llm, store, WithTimeout(time.Second))
	require.NoError(t, err)
	return c
}

func TestNew_NilDeps(t *testing.T) {
	_, err := New(nil, session.NewMemoryStore())
	require.ErrorContains(t, err, "must not be nil")
	_, err = New(&fakeLLM{}, nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestClassify_ExecutionRequestResolves(t *testing.T) {
	store := session.NewMemoryStore()
	llm := &fakeLLM{classify: reply(`{"intent_category":"EXECUTION","aws_service":"s3","confidence":"high","reasoning":"listing"}`)}
	c := newTestClassifier(t, llm, store)

	out := c.Classify(context.Background(), "s1", "List all S3 buckets")
	require.False(t, out.NeedsClarification())
	require.False(t, out.Fallback)
	require.Equal(t, domain.CategoryExecution, out.Result.IntentCategory)
	require.Equal(t, "s3", out.Result.AWSService)
	require.Equal(t, domain.ConfidenceHigh, out.Result.Confidence)
	require.Equal(t, "List all S3 buckets", out.Request)

	_, pending, err := store.TakePendingClarification(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, pending)
}

func TestClassify_ShortRequestNeedsClarificationRegardlessOfConfidence(t *testing.T) {
	store := session.NewMemoryStore()
	llm := &fakeLLM{
		classify: reply(`{"intent_category":"EXECUTION","aws_service":"unknown","confidence":"high","reasoning":"r"}`),
		clarify:  reply("  Which AWS service do you need help with?  "),
	}
	c := newTestClassifier(t, llm, store)

	out := c.Classify(context.Background(), "s1", "help")
	require.True(t, out.NeedsClarification())
	require.Equal(t, "Which AWS service do you need help with?", out.Clarification.Question)
	require.Equal(t, domain.CategoryExecution, out.Clarification.SuggestedCategory)
	require.Equal(t, domain.CategoryClarification, out.Result.IntentCategory)
	require.Equal(t, domain.ConfidenceLow, out.Result.Confidence)

	p, ok, err := store.TakePendingClarification(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "help", p.OriginalRequest)
	require.Equal(t, "Which AWS service do you need help with?", p.ClarificationQuestion)
}

func TestClassify_KeywordFallbackOnInvalidOutput(t *testing.T) {
	llm := &fakeLLM{classify: reply("I think this is troubleshooting")}
	c := newTestClassifier(t, llm, session.NewMemoryStore())

	out := c.Classify(context.Background(), "s1", "my lambda function keeps failing")
	require.True(t, out.Fallback)
	require.False(t, out.NeedsClarification())
	require.Equal(t, domain.CategoryTroubleshooting, out.Result.IntentCategory)
	require.Equal(t, domain.ConfidenceMedium, out.Result.Confidence)
	require.Equal(t, "unknown", out.Result.AWSService)
}

func TestClassify_KeywordFallbackOnModelError(t *testing.T) {
	llm := &fakeLLM{classify: func(domain.GenerateRequest) (string, error) { return "", errors.New("503") }}
	c := newTestClassifier(t, llm, session.NewMemoryStore())

	out := c.Classify(context.Background(), "s1", "describe my EC2 instances please")
	require.True(t, out.Fallback)
	require.Equal(t, domain.CategoryExecution, out.Result.IntentCategory)
	require.Equal(t, domain.ConfidenceMedium, out.Result.Confidence)
}

func TestClassify_ModelTimeoutFallsBack(t *testing.T) {
	c, err := New(blockingLLM{}, session.NewMemoryStore(), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	out := c.Classify(context.Background(), "s1", "why is the bucket policy broken")
	require.Less(t, time.Since(start), time.Second)
	require.True(t, out.Fallback)
	require.Equal(t, domain.CategoryTroubleshooting, out.Result.IntentCategory)
}

type blockingLLM struct{}

func (blockingLLM) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if req.Schema == nil {
		return "Which service?", nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestClassify_MergesPendingClarificationWithoutReclarifying(t *testing.T) {
	store := session.NewMemoryStore()
	llm := &fakeLLM{
		classify: reply(`{"intent_category":"EXECUTION","aws_service":"s3","confidence":"low","reasoning":"vague"}`),
		clarify:  reply("Which resource?"),
	}
	c := newTestClassifier(t, llm, store)

	first := c.Classify(context.Background(), "s1", "help")
	require.True(t, first.NeedsClarification())

	second := c.Classify(context.Background(), "s1", "maybe s3")
	require.False(t, second.NeedsClarification(), "merged request must not clarify again")
	require.True(t, second.Merged)
	require.Equal(t, "help maybe s3", second.Request)
	require.Equal(t, domain.CategoryExecution, second.Result.IntentCategory)
	require.Equal(t, domain.ConfidenceLow, second.Result.Confidence)

	last := llm.requests[len(llm.requests)-1]
	require.Contains(t, last.Prompt, `Current request: "help maybe s3"`)

	_, ok, err := store.TakePendingClarification(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClassify_AtMostOnePendingClarification(t *testing.T) {
	store := &countingStore{MemoryStore: session.NewMemoryStore()}
	llm := &fakeLLM{
		classify: reply(`{"intent_category":"EXECUTION","aws_service":"unknown","confidence":"low","reasoning":"r"}`),
		clarify:  reply("Which service?"),
	}
	c := newTestClassifier(t, llm, store)

	for i := 0; i < 4; i++ {
		c.Classify(context.Background(), "s1", "not sure")
		require.LessOrEqual(t, store.pending("s1"), 1)
	}
	require.Equal(t, 2, store.sets)
}

// countingStore tracks outstanding clarifications per session.
type countingStore struct {
	*session.MemoryStore
	mu          sync.Mutex
	outstanding map[string]int
	sets        int
}

func (s *countingStore) SetPendingClarification(ctx context.Context, id string, p domain.PendingClarification) error {
	s.mu.Lock()
	if s.outstanding == nil {
		s.outstanding = map[string]int{}
	}
	s.outstanding[id]++
	s.sets++
	s.mu.Unlock()
	return s.MemoryStore.SetPendingClarification(ctx, id, p)
}

func (s *countingStore) TakePendingClarification(ctx context.Context, id string) (domain.PendingClarification, bool, error) {
	p, ok, err := s.MemoryStore.TakePendingClarification(ctx, id)
	if ok {
		s.mu.Lock()
		s.outstanding[id]--
		s.mu.Unlock()
	}
	return p, ok, err
}

func (s *countingStore) pending(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding[id]
}

func TestClassify_ClarificationCallFailureUsesDefaultQuestion(t *testing.T) {
	llm := &fakeLLM{classify: reply(`{"intent_category":"TROUBLESHOOTING","aws_service":"lambda","confidence":"low","reasoning":"r"}`)}
	c := newTestClassifier(t, llm, session.NewMemoryStore())

	out := c.Classify(context.Background(), "s1", "lambda might be broken somehow")
	require.True(t, out.NeedsClarification())
	require.Equal(t, DefaultQuestion, out.Clarification.Question)
	require.Equal(t, domain.CategoryTroubleshooting, out.Clarification.SuggestedCategory)
}

func TestClassify_IncludesRecentHistory(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	for i, msg := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, store.AppendTurn(ctx, "s1", domain.ConversationTurn{
			UserMessage:   msg,
			AgentResponse: strings.Repeat("x", 150),
			AgentUsed:     domain.AgentExecution,
			Timestamp:     time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		}))
	}
	llm := &fakeLLM{classify: reply(`{"intent_category":"EXECUTION","aws_service":"s3","confidence":"high","reasoning":"r"}`)}
	c := newTestClassifier(t, llm, store)

	c.Classify(ctx, "s1", "List all S3 buckets")
	prompt := llm.requests[0].Prompt
	require.True(t, strings.HasPrefix(prompt, "Previous conversation:\nUser: second\n"))
	require.NotContains(t, prompt, "User: first")
	require.Contains(t, prompt, "Agent (execution): "+strings.Repeat("x", 100)+"...\n")
	require.NotContains(t, prompt, strings.Repeat("x", 101))
}

type failingStore struct{}

func (failingStore) RecentTurns(context.Context, string, int) ([]domain.ConversationTurn, error) {
	return nil, errors.New("table missing")
}

func (failingStore) SetPendingClarification(context.Context, string, domain.PendingClarification) error {
	return errors.New("table missing")
}

func (failingStore) TakePendingClarification(context.Context, string) (domain.PendingClarification, bool, error) {
	return domain.PendingClarification{}, false, errors.New("table missing")
}

func TestClassify_StoreFailuresDegrade(t *testing.T) {
	llm := &fakeLLM{
		classify: reply(`{"intent_category":"EXECUTION","aws_service":"ec2","confidence":"high","reasoning":"r"}`),
		clarify:  reply("Which instance?"),
	}
	c := newTestClassifier(t, llm, failingStore{})

	out := c.Classify(context.Background(), "s1", "stop the staging instances now")
	require.False(t, out.NeedsClarification())
	require.Equal(t, domain.CategoryExecution, out.Result.IntentCategory)

	out = c.Classify(context.Background(), "s1", "help")
	require.True(t, out.NeedsClarification())
	require.Equal(t, "Which instance?", out.Clarification.Question)
}

func TestParseClassification(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    domain.ClassificationResult
		wantErr string
	}{
		{
			name: "wrapped in prose",
			raw:  "Sure! {\"intent_category\":\"troubleshooting\",\"aws_service\":\"lambda\",\"confidence\":\"High\",\"reasoning\":\"errors\"} hope that helps",
			want: domain.ClassificationResult{IntentCategory: domain.CategoryTroubleshooting, AWSService: "lambda", Confidence: domain.ConfidenceHigh, Reasoning: "errors"},
		},
		{
			name: "missing confidence is high",
			raw:  `{"intent_category":"EXECUTION","aws_service":""}`,
			want: domain.ClassificationResult{IntentCategory: domain.CategoryExecution, AWSService: "unknown", Confidence: domain.ConfidenceHigh},
		},
		{
			name: "unknown confidence is medium",
			raw:  `{"intent_category":"EXECUTION","aws_service":"s3","confidence":"certain"}`,
			want: domain.ClassificationResult{IntentCategory: domain.CategoryExecution, AWSService: "s3", Confidence: domain.ConfidenceMedium},
		},
		{
			name: "other category passes through",
			raw:  `{"intent_category":"DOCUMENTATION","aws_service":"iam","confidence":"medium"}`,
			want: domain.ClassificationResult{IntentCategory: "DOCUMENTATION", AWSService: "iam", Confidence: domain.ConfidenceMedium},
		},
		{name: "missing category", raw: `{"aws_service":"s3"}`, wantErr: "missing intent_category"},
		{name: "no object", raw: "EXECUTION", wantErr: "no JSON object"},
		{name: "broken json", raw: `{"intent_category": }`, wantErr: "decode output"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseClassification(tc.raw)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNeedsClarification(t *testing.T) {
	high := domain.ClassificationResult{Confidence: domain.ConfidenceHigh}
	low := domain.ClassificationResult{Confidence: domain.ConfidenceLow}

	require.False(t, NeedsClarification(high, "List all S3 buckets"))
	require.True(t, NeedsClarification(low, "List all S3 buckets"))
	require.True(t, NeedsClarification(high, "list buckets"))
	require.True(t, NeedsClarification(high, "I am not sure which bucket"))
	require.True(t, NeedsClarification(high, "Could you restart my service"))
}

func TestKeywordFallback(t *testing.T) {
	for _, req := range []string{"Why is my function slow", "debug the DEPLOY", "there is a Problem with RDS", "lambda failing"} {
		require.Equal(t, domain.CategoryTroubleshooting, KeywordFallback(req).IntentCategory, req)
	}
	got := KeywordFallback("create a bucket named logs")
	require.Equal(t, domain.CategoryExecution, got.IntentCategory)
	require.Equal(t, domain.ConfidenceMedium, got.Confidence)
}
