package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/usage"
	"github.com/rmedgar/nekowat/internal/wat/dispatcher"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/proto"
	"github.com/rmedgar/nekowat/pkg/rpc"
)

// RegisterRPC binds the bot core to the RPC server for transports that keep
// a persistent connection instead of speaking HTTP.
func RegisterRPC(s *rpc.Server, d *dispatcher.Dispatcher, cat *catalog.Service, agg *usage.Aggregator) {
	s.Register(proto.MethodMatch, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.MatchRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "invalid match request")
		}
		mode, err := matcher.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := d.Match(ctx, req.UserID, req.Expression, mode)
		if err != nil {
			return nil, err
		}

		resp := &proto.MatchResponse{
			WATs:     make([]proto.MatchedWAT, 0, len(result.WATs)),
			Wildcard: result.Wildcard,
			TookMs:   float64(time.Since(start).Microseconds()) / 1000,
		}
		for _, record := range result.WATs {
			resp.WATs = append(resp.WATs, proto.MatchedWAT{
				ID:          record.ID,
				Name:        record.Name,
				FileIDs:     record.FileIDs,
				FileID:      record.LargestFileID(),
				ThumbFileID: record.SmallestFileID(),
				Tags:        record.Tags,
			})
		}
		return resp, nil
	})

	s.Register(proto.MethodAuthorize, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.AuthorizeRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "invalid authorize request")
		}
		return &proto.AuthorizeResponse{
			Authorized: d.Authorize(req.UserID),
			Owner:      d.IsOwner(req.UserID),
		}, nil
	})

	s.Register(proto.MethodWhitelistList, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.WhitelistListRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "invalid whitelist request")
		}
		entries, err := d.ListUsers(req.UserID)
		if err != nil {
			return nil, err
		}
		resp := &proto.WhitelistListResponse{
			Enabled: d.WhitelistEnabled(),
			Entries: make([]proto.WhitelistEntry, 0, len(entries)),
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, proto.WhitelistEntry{
				UserID:  e.UserID,
				Name:    e.Name,
				AddedAt: e.AddedAt,
			})
		}
		return resp, nil
	})

	s.Register(proto.MethodStats, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.StatsRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "invalid stats request")
		}
		if !d.IsOwner(req.UserID) {
			return nil, apperrors.Newf(apperrors.ErrPermissionDenied, 403, "user %d is not the owner", req.UserID)
		}
		resp := &proto.StatsResponse{CatalogSize: cat.Size()}
		if agg != nil {
			stats := agg.Stats(req.TopN)
			resp.TotalMatches = stats.TotalMatches
			resp.WildcardRate = stats.WildcardRate
			resp.TopExpressions = make([]proto.ExpressionCount, 0, len(stats.TopExpressions))
			for _, ec := range stats.TopExpressions {
				resp.TopExpressions = append(resp.TopExpressions, proto.ExpressionCount{
					Expression: ec.Key,
					Count:      ec.Count,
				})
			}
		}
		return resp, nil
	})
}
