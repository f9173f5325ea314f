package bot

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	chess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/obslog"
)

const oracleCacheTTL = time.Hour

// RemoteOracle queries an external move-suggestion service before the local
// search runs. Every failure mode (timeout, non-200, malformed payload,
// illegal suggestion) is swallowed; the caller falls back to local search.
type RemoteOracle struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	rdb     *redis.Client
}

type oracleResponse struct {
	Move string `json:"move"`
}

// NewRemoteOracle builds an oracle client. rdb may be nil to disable the
// response cache.
func NewRemoteOracle(baseURL string, timeout time.Duration, rdb *redis.Client) *RemoteOracle {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RemoteOracle{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout, MaxConnsPerHost: 16},
		timeout: timeout,
		rdb:     rdb,
	}
}

// Suggest returns a legal move for the position, or false when the oracle
// cannot help. Suggestions are decoded as UCI first, SAN as a fallback, and
// are only accepted when legal in the given position.
func (o *RemoteOracle) Suggest(ctx context.Context, pos *chess.Position) (*chess.Move, bool) {
	if o == nil || o.baseURL == "" || ctx.Err() != nil {
		return nil, false
	}
	fen := pos.String()

	if cached := o.cacheGet(ctx, fen); cached != "" {
		if mv := decodeSuggestion(pos, cached); mv != nil {
			return mv, true
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(o.baseURL + "?fen=" + url.QueryEscape(fen))

	if err := o.http.DoTimeout(req, resp, o.timeout); err != nil {
		obslog.L().Debug("oracle_unreachable", zap.Error(err))
		return nil, false
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		obslog.L().Debug("oracle_status", zap.Int("status", resp.StatusCode()))
		return nil, false
	}
	var payload oracleResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil || strings.TrimSpace(payload.Move) == "" {
		obslog.L().Debug("oracle_malformed", zap.Error(err))
		return nil, false
	}

	mv := decodeSuggestion(pos, payload.Move)
	if mv == nil {
		obslog.L().Debug("oracle_illegal", zap.String("move", payload.Move), zap.String("fen", fen))
		return nil, false
	}
	o.cacheSet(ctx, fen, payload.Move)
	return mv, true
}

func decodeSuggestion(pos *chess.Position, raw string) *chess.Move {
	raw = strings.TrimSpace(raw)
	if mv, err := (chess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil {
		return mv
	}
	if mv, err := (chess.AlgebraicNotation{}).Decode(pos, raw); err == nil {
		return mv
	}
	return nil
}

func (o *RemoteOracle) cacheGet(ctx context.Context, fen string) string {
	if o.rdb == nil {
		return ""
	}
	v, err := o.rdb.Get(ctx, oracleKey(fen)).Result()
	if err != nil {
		return ""
	}
	return v
}

func (o *RemoteOracle) cacheSet(ctx context.Context, fen, move string) {
	if o.rdb == nil {
		return
	}
	if err := o.rdb.Set(ctx, oracleKey(fen), move, oracleCacheTTL).Err(); err != nil {
		obslog.L().Debug("oracle_cache_set_error", zap.Error(err))
	}
}

func oracleKey(fen string) string { return "oracle:fen:" + fen }
