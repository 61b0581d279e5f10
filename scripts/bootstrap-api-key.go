// Command bootstrap-api-key creates the account for an address and an API
// key for it, for operators and smoke tests.
//
//	go run scripts/bootstrap-api-key.go -address 0x... -tier UNLIMITED -format json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/noncegate/noncegate/internal/address"
	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/repository"
	"github.com/noncegate/noncegate/internal/service"
)

type output struct {
	AccountID    string             `json:"account_id"`
	Address      string             `json:"address"`
	KeyID        string             `json:"key_id"`
	Key          string             `json:"key"`
	KeyPrefix    string             `json:"key_prefix"`
	Capabilities model.Capabilities `json:"capabilities"`
	Tier         model.Tier         `json:"tier"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		addr        = flag.String("address", "", "Ethereum or principal address that owns the key")
		name        = flag.String("name", "bootstrap", "API key name")
		capsInput   = flag.String("capabilities", "submit,read", "Comma-separated capabilities (submit,read,create_scorers)")
		tierInput   = flag.String("tier", model.TierUnlimited.String(), "Rate limit tier (TIER_1, TIER_2, TIER_3, UNLIMITED)")
		env         = flag.String("env", auth.EnvLive, "Key environment: live or test")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fail("DATABASE_URL is required")
	}
	canonical, err := address.Normalize(*addr)
	if err != nil {
		fail("invalid -address: " + err.Error())
	}
	caps, err := parseCapabilities(*capsInput)
	if err != nil {
		fail(err.Error())
	}
	tier, err := model.ParseTier(strings.ToUpper(*tierInput))
	if err != nil {
		fail("invalid -tier: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fail("connect database: " + err.Error())
	}
	defer repo.Close()

	account, _, err := repo.GetOrCreateAccountByAddress(ctx, canonical)
	if err != nil {
		fail("create account: " + err.Error())
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewAPIKeyService(repo, auth.NewKeyGenerator(*env, auth.DefaultParams), nil, logger)

	created, err := keys.Create(ctx, account.ID, model.APIKeyCreateRequest{Name: *name, Capabilities: &caps})
	if err != nil {
		fail("create api key: " + err.Error())
	}
	key := created.Key
	if tier != key.Tier {
		key, err = keys.Update(ctx, account.ID, key.ID, model.APIKeyUpdateRequest{Tier: &tier})
		if err != nil {
			fail("set tier: " + err.Error())
		}
	}

	out := output{
		AccountID:    account.ID,
		Address:      account.Address,
		KeyID:        key.ID,
		Key:          created.Plaintext,
		KeyPrefix:    key.KeyPrefix,
		Capabilities: key.Capabilities,
		Tier:         key.Tier,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

func parseCapabilities(input string) (model.Capabilities, error) {
	var caps model.Capabilities
	for _, part := range strings.Split(input, ",") {
		switch model.Capability(strings.TrimSpace(part)) {
		case "":
		case model.CapabilitySubmit:
			caps.Submit = true
		case model.CapabilityRead:
			caps.Read = true
		case model.CapabilityCreateScorers:
			caps.CreateScorers = true
		default:
			return caps, fmt.Errorf("invalid capability: %s", part)
		}
	}
	return caps, nil
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
