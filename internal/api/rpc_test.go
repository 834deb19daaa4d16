package api

import (
	"net"
	"testing"
	"time"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/dispatcher"
	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	"github.com/rmedgar/nekowat/pkg/proto"
	"github.com/rmedgar/nekowat/pkg/rpc"
)

func startRPCServer(t *testing.T) *rpc.Client {
	t.Helper()

	idx := index.New()
	if err := idx.AddImage(&wat.WAT{ID: "a", Name: "happy cat", FileIDs: []string{"fa"}, Tags: []string{"cat"}}); err != nil {
		t.Fatalf("seeding index: %v", err)
	}
	g := gate.New(gate.Config{
		Owner:   ownerID,
		Enabled: true,
		Entries: []gate.Entry{{UserID: memberID, Name: "member"}},
	})
	d := dispatcher.New(g, matcher.New(idx, testPageSize))

	s := rpc.NewServer()
	RegisterRPC(s, d, catalog.NewService(idx), nil)
	go s.Serve("127.0.0.1:0")
	t.Cleanup(s.Stop)

	var addr net.Addr
	for i := 0; i < 200 && addr == nil; i++ {
		addr = s.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("rpc server did not bind")
	}

	client, err := rpc.Dial(addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dialing rpc server: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRPCStatsOwnerOnly(t *testing.T) {
	client := startRPCServer(t)

	var resp proto.StatsResponse
	err := client.Call(proto.MethodStats, proto.StatsRequest{UserID: memberID}, &resp)
	if err == nil {
		t.Fatal("stats call for non-owner succeeded")
	}

	if err := client.Call(proto.MethodStats, proto.StatsRequest{UserID: ownerID, TopN: 5}, &resp); err != nil {
		t.Fatalf("stats call for owner: %v", err)
	}
	if resp.CatalogSize != 1 {
		t.Errorf("CatalogSize = %d, want 1", resp.CatalogSize)
	}
}

func TestRPCMatch(t *testing.T) {
	client := startRPCServer(t)

	var resp proto.MatchResponse
	err := client.Call(proto.MethodMatch, proto.MatchRequest{UserID: memberID, Expression: "cat", Mode: "single"}, &resp)
	if err != nil {
		t.Fatalf("match call: %v", err)
	}
	if len(resp.WATs) != 1 || resp.WATs[0].ID != "a" {
		t.Fatalf("match = %+v, want single wat a", resp.WATs)
	}
	if resp.Wildcard {
		t.Error("tag match must not be flagged wildcard")
	}
}
