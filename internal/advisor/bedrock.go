package advisor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"

	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/scorer"
)

const (
	bedrockRuntimeService = "bedrock"
	bedrockHostPattern    = "bedrock-runtime.%s.amazonaws.com"
	defaultEmbeddingModel = "amazon.titan-embed-text-v1"
)

// BedrockAdvisor scores query/entry similarity via Titan embeddings on AWS
// Bedrock, SigV4-signed the same way the host gateway signs its model
// invocations: load credentials from the default chain, sign each request,
// fail soft (AdviseScore returns "no opinion") if anything goes wrong.
// AdvisePrune always abstains — reordering candidates from an embedding
// space is a richer decision than this advisor implements, so it defers to
// the deterministic strategy ordering.
type BedrockAdvisor struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	model       string
	httpClient  *http.Client
	configured  bool
}

// NewBedrockAdvisor loads AWS credentials from the standard chain
// (environment, shared config, IAM role). If no credentials are available
// it returns a non-nil advisor that always abstains, so callers can bind
// it unconditionally.
func NewBedrockAdvisor(model string) *BedrockAdvisor {
	if model == "" {
		model = defaultEmbeddingModel
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	ba := &BedrockAdvisor{
		region:     region,
		signer:     v4.NewSigner(),
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		log.Warn().Err(err).Msg("advisor: failed to load AWS config, Bedrock advisor will abstain")
		return ba
	}
	if _, err := cfg.Credentials.Retrieve(context.Background()); err != nil {
		log.Debug().Err(err).Msg("advisor: no AWS credentials available, Bedrock advisor will abstain")
		return ba
	}
	ba.credentials = cfg.Credentials
	ba.configured = true
	log.Info().Str("region", region).Str("model", model).Msg("advisor: Bedrock embedding advisor configured")
	return ba
}

// AdviseScore implements Advisor by embedding the current query and the
// entry's content (or its compressed summary) and returning their cosine
// similarity as the entry's advised score, which the engine uses in place of
// the deterministic score. Any failure — unconfigured,
// network error, malformed response — abstains rather than propagating an
// error, matching scoring's "never fails" contract.
func (b *BedrockAdvisor) AdviseScore(entry entrystore.View, ctx scorer.Context) (float64, bool) {
	if !b.configured || ctx.CurrentQuery == "" {
		return 0, false
	}
	content := entry.Content
	if entry.Compressed != nil {
		content = entry.Compressed.Summary
	}
	if content == "" {
		return 0, false
	}

	queryVec, err := b.embed(context.Background(), ctx.CurrentQuery)
	if err != nil {
		log.Debug().Err(err).Msg("advisor: embedding query failed, abstaining")
		return 0, false
	}
	entryVec, err := b.embed(context.Background(), content)
	if err != nil {
		log.Debug().Err(err).Msg("advisor: embedding entry failed, abstaining")
		return 0, false
	}

	return cosineSimilarity(queryVec, entryVec), true
}

// AdvisePrune implements Advisor; see the type doc for why this abstains.
func (b *BedrockAdvisor) AdvisePrune([]string, scorer.Context) []string { return nil }

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (b *BedrockAdvisor) embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("advisor: marshalling embed request: %w", err)
	}

	url := fmt.Sprintf("https://%s/model/%s/invoke", fmt.Sprintf(bedrockHostPattern, b.region), b.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("advisor: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	creds, err := b.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisor: retrieving credentials: %w", err)
	}
	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))
	if err := b.signer.SignHTTP(ctx, creds, req, payloadHash, bedrockRuntimeService, b.region, time.Now()); err != nil {
		return nil, fmt.Errorf("advisor: signing request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisor: calling bedrock: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("advisor: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor: bedrock returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("advisor: unmarshalling response: %w", err)
	}
	return parsed.Embedding, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01(sim)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
