package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/canonicalize"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/config"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/policy"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/quorum"
)

// openCommittee boots the committee from the environment the way the
// server does, but with internal logging discarded so command output
// stays parseable.
func openCommittee() (*quorum.Service, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	ks, err := keystore.New(cfg.KeystoreDir, keystore.WithDevSecret(cfg.DevSeed))
	if err != nil {
		return nil, nil, err
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	committee, err := quorum.New(quorum.Config{N: cfg.ElderCount, M: cfg.QuorumM}, ks,
		quorum.WithLogger(quiet))
	if err != nil {
		return nil, nil, err
	}
	return committee, cfg, nil
}

func runEldersCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("elders", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output roster as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	committee, _, err := openCommittee()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	roster := committee.ListElders()

	if jsonOutput {
		data, _ := json.MarshalIndent(roster, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "Elder committee: quorum %s%d of %d%s\n", ColorBold, roster.M, roster.N, ColorReset)
	for _, e := range roster.Elders {
		fmt.Fprintf(stdout, "  %-12s %-10s %s  rep %.2f\n", e.ElderID, e.Status, e.Fingerprint, e.Reputation)
	}
	return 0
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output key fingerprints as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ks, err := keystore.New(cfg.KeystoreDir, keystore.WithDevSecret(cfg.DevSeed))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	type keyInfo struct {
		ID          string `json:"id"`
		Fingerprint string `json:"fingerprint"`
	}
	keys := make([]keyInfo, 0, cfg.ElderCount+1)
	for i := 0; i < cfg.ElderCount; i++ {
		elder, _, err := ks.LoadOrCreateElder(i)
		if err != nil {
			fmt.Fprintf(stderr, "Error: elder %d: %v\n", i, err)
			return 1
		}
		keys = append(keys, keyInfo{ID: elder.ElderID, Fingerprint: elder.Fingerprint()})
	}
	operator, err := ks.LoadOrCreateOperator()
	if err != nil {
		fmt.Fprintf(stderr, "Error: operator: %v\n", err)
		return 1
	}
	keys = append(keys, keyInfo{ID: "operator", Fingerprint: contracts.KeyFingerprint(operator.Public())})

	if jsonOutput {
		result := map[string]any{
			"keystore_dir": cfg.KeystoreDir,
			"keys":         keys,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "✅ Keystore ready: %s\n", cfg.KeystoreDir)
	for _, k := range keys {
		fmt.Fprintf(stdout, "   %-12s %s\n", k.ID, k.Fingerprint)
	}
	return 0
}

func runAssessCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("assess", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		claimPath   string
		profilePath string
	)
	cmd.StringVar(&claimPath, "claim", "", "Path to activity claim JSON (default: stdin)")
	cmd.StringVar(&profilePath, "profile", "", "Path to a YAML policy profile")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		raw []byte
		err error
	)
	if claimPath == "" || claimPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(claimPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error reading claim: %v\n", err)
		return 1
	}

	var claim contracts.ActivityClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		fmt.Fprintf(stderr, "Error: invalid claim JSON: %v\n", err)
		return 1
	}

	var opts []policy.Option
	if profilePath != "" {
		prof, err := policy.LoadProfile(profilePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		opts = append(opts, policy.WithProfile(prof))
	}
	engine, err := policy.New(opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	verdict := engine.Assess(claim)
	data, _ := json.MarshalIndent(verdict, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}

func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		headerPath string
		elderIDs   string
	)
	cmd.StringVar(&headerPath, "header", "", "Path to block header JSON (REQUIRED)")
	cmd.StringVar(&elderIDs, "elders", "", "Comma-separated elder ids (default: all active)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if headerPath == "" {
		fmt.Fprintln(stderr, "Error: --header is required")
		cmd.Usage()
		return 2
	}

	raw, err := os.ReadFile(headerPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading header: %v\n", err)
		return 1
	}
	var header contracts.BlockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		fmt.Fprintf(stderr, "Error: invalid header JSON: %v\n", err)
		return 1
	}

	var selection []string
	if elderIDs != "" {
		for _, id := range strings.Split(elderIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				selection = append(selection, id)
			}
		}
	}

	committee, _, err := openCommittee()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	envelope, err := committee.SignBlock(context.Background(), header, selection)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(envelope.Signatures) < envelope.Policy.M {
		fmt.Fprintf(stderr, "⚠️  envelope is sub-quorum: %d of %d signatures\n",
			len(envelope.Signatures), envelope.Policy.M)
	}

	data, _ := json.MarshalIndent(envelope, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		headerPath   string
		envelopePath string
		jsonOutput   bool
	)
	cmd.StringVar(&headerPath, "header", "", "Path to block header JSON (REQUIRED)")
	cmd.StringVar(&envelopePath, "envelope", "", "Path to quorum envelope JSON (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output verification as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if headerPath == "" || envelopePath == "" {
		fmt.Fprintln(stderr, "Error: --header and --envelope are required")
		cmd.Usage()
		return 2
	}

	rawHeader, err := os.ReadFile(headerPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading header: %v\n", err)
		return 1
	}
	var header contracts.BlockHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		fmt.Fprintf(stderr, "Error: invalid header JSON: %v\n", err)
		return 1
	}
	canonical, err := canonicalize.Header(header)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	rawEnv, err := os.ReadFile(envelopePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading envelope: %v\n", err)
		return 1
	}
	var envelope contracts.QuorumEnvelope
	if err := json.Unmarshal(rawEnv, &envelope); err != nil {
		fmt.Fprintf(stderr, "Error: invalid envelope JSON: %v\n", err)
		return 1
	}

	committee, _, err := openCommittee()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	result := committee.VerifyQuorum(canonical, envelope)

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if result.Valid {
		fmt.Fprintf(stdout, "✅ Quorum verified: %d of %d distinct signers\n", result.TotalDistinct, result.RequiredM)
		for _, id := range result.ValidSigners {
			fmt.Fprintf(stdout, "   %s\n", id)
		}
	} else {
		fmt.Fprintf(stdout, "❌ Quorum verification failed: %d distinct signers, need %d\n",
			result.TotalDistinct, result.RequiredM)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	addr := cfg.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	resp, err := http.Get("http://" + addr + "/api/ai/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
