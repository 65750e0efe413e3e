package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/devnet/protocol"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/keystore"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/ledgerclient"
)

type options struct {
	op        string
	url       string
	seed      string
	nonce     string
	timestamp string

	contractAddress string
	contractModule  string

	sessionID   string
	rewardPool  string
	participant string
	recipient   string
	amount      string
	rewardTypes string
	rewardIDs   string

	score       float64
	quality     float64
	timeSpent   float64
	accuracy    float64
	efficiency  float64
	consistency float64
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "entry function: create_session|register_participant|submit_contribution|complete_session|distribute_rewards|claim_reward|batch_claim_rewards")
	flag.StringVar(&opt.url, "url", "", "devnet base url; when empty the signed tx is printed instead of submitted")
	flag.StringVar(&opt.seed, "seed", "", "hex ed25519 seed of the sender; default random")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")

	flag.StringVar(&opt.contractAddress, "contract-address", "0x1", "contract account address")
	flag.StringVar(&opt.contractModule, "contract-module", "contribution", "contract module name")

	flag.StringVar(&opt.sessionID, "session-id", "", "session identifier")
	flag.StringVar(&opt.rewardPool, "reward-pool", "1000", "reward pool for create_session")
	flag.StringVar(&opt.participant, "participant", "", "participant address; defaults to the sender")
	flag.StringVar(&opt.recipient, "recipient", "", "recipient address for distribute_rewards")
	flag.StringVar(&opt.amount, "amount", "0", "amount for distribute and claim")
	flag.StringVar(&opt.rewardTypes, "reward-types", "PARTICIPATION", "comma-separated reward types for distribute_rewards")
	flag.StringVar(&opt.rewardIDs, "reward-ids", "", "comma-separated reward ids for claims")

	flag.Float64Var(&opt.score, "score", 80, "contribution score")
	flag.Float64Var(&opt.quality, "quality", 0.8, "contribution quality")
	flag.Float64Var(&opt.timeSpent, "time-spent", 600, "contribution time spent in seconds")
	flag.Float64Var(&opt.accuracy, "accuracy", 0.8, "accuracy metric")
	flag.Float64Var(&opt.efficiency, "efficiency", 0.7, "efficiency metric")
	flag.Float64Var(&opt.consistency, "consistency", 0.9, "consistency metric")
	flag.Parse()

	signer, err := loadSigner(opt.seed)
	if err != nil {
		log.Fatalf("load signer: %v", err)
	}
	contract := ledger.Contract{Address: opt.contractAddress, Module: opt.contractModule}
	fn, err := buildEntryFunction(contract, opt, signer.Address())
	if err != nil {
		log.Fatalf("build payload: %v", err)
	}
	fmt.Fprintf(os.Stderr, "sender=%s seed=%s\n", signer.Address(), signer.SeedHex())

	if strings.TrimSpace(opt.url) != "" {
		client, err := ledgerclient.New(ledgerclient.Config{BaseURL: opt.url}, zerolog.Nop())
		if err != nil {
			log.Fatalf("ledger client: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		hash, err := client.SignAndSubmit(ctx, signer, fn)
		if err != nil {
			log.Fatalf("submit: %v", err)
		}
		res, err := client.GetTransaction(ctx, hash)
		if err != nil {
			log.Fatalf("get transaction: %v", err)
		}
		printJSON(res)
		return
	}

	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatalf("parse timestamp: %v", err)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = uuid.NewString()
	}
	tx := protocol.Tx{Nonce: nonce, Timestamp: ts, Payload: fn}
	if err := tx.Sign(signer); err != nil {
		log.Fatalf("sign tx: %v", err)
	}
	printJSON(tx)
}

func buildEntryFunction(contract ledger.Contract, opt options, sender string) (ledger.EntryFunction, error) {
	sessionID := strings.TrimSpace(opt.sessionID)
	participant := strings.TrimSpace(opt.participant)
	if participant == "" {
		participant = sender
	}

	var (
		args []json.RawMessage
		err  error
	)
	switch opt.op {
	case ledger.FnCreateSession:
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		args, err = ledger.Args(sessionID, opt.rewardPool)
	case ledger.FnRegisterParticipant:
		if sessionID == "" {
			return ledger.EntryFunction{}, errors.New("session-id is required")
		}
		args, err = ledger.Args(sessionID, participant)
	case ledger.FnSubmitContribution:
		if sessionID == "" {
			return ledger.EntryFunction{}, errors.New("session-id is required")
		}
		args, err = ledger.Args(sessionID, participant, opt.score, opt.quality, opt.timeSpent, opt.accuracy, opt.efficiency, opt.consistency)
	case ledger.FnCompleteSession:
		if sessionID == "" {
			return ledger.EntryFunction{}, errors.New("session-id is required")
		}
		args, err = ledger.Args(sessionID)
	case ledger.FnDistributeRewards:
		recipient := strings.TrimSpace(opt.recipient)
		if sessionID == "" || recipient == "" {
			return ledger.EntryFunction{}, errors.New("session-id and recipient are required")
		}
		args, err = ledger.Args(sessionID, recipient, opt.amount, splitCSV(opt.rewardTypes))
	case ledger.FnClaimReward, ledger.FnBatchClaimRewards:
		ids := splitCSV(opt.rewardIDs)
		if len(ids) == 0 {
			return ledger.EntryFunction{}, errors.New("reward-ids is required")
		}
		args, err = ledger.Args(ids, participant, opt.amount)
	default:
		return ledger.EntryFunction{}, fmt.Errorf("unsupported op: %q", opt.op)
	}
	if err != nil {
		return ledger.EntryFunction{}, err
	}
	return ledger.EntryFunction{Function: contract.Function(opt.op), Arguments: args}, nil
}

func loadSigner(raw string) (*keystore.Signer, error) {
	if strings.TrimSpace(raw) == "" {
		return keystore.Generate()
	}
	return keystore.FromSeedHex(raw)
}

func parseTimestamp(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, item := range parts {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode output: %v", err)
	}
	fmt.Println(string(out))
}
