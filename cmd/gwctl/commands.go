package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/engine"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"github.com/xela07ax/selfauth-gateway/internal/permission"
	"github.com/xela07ax/selfauth-gateway/internal/vault"
)

// Известные внутренние операции для decode
var knownMethods = []abi.Method{vault.WithdrawMethod, vault.SweepFundsMethod}

func newSelectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selector <signature>",
		Short: "Print the 4-byte selector of a function signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), abi.SelectorOf(args[0]))
			return nil
		},
	}
}

// parseSelectorArg принимает и "0xd9caed12", и "withdraw(address,address,uint256)".
func parseSelectorArg(s string) (abi.Selector, error) {
	if strings.Contains(s, "(") {
		return abi.SelectorOf(s), nil
	}
	return abi.ParseSelector(s)
}

func newActionIDCmd() *cobra.Command {
	var selector, executor, target string

	cmd := &cobra.Command{
		Use:   "action-id",
		Short: "Compute keccak256(selector ‖ executor ‖ target)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelectorArg(selector)
			if err != nil {
				return fmt.Errorf("--selector: %w", err)
			}
			exec, err := abi.ParseAddress(executor)
			if err != nil {
				return fmt.Errorf("--executor: %w", err)
			}
			tgt, err := abi.ParseAddress(target)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), permission.NewActionID(sel, exec, tgt))
			return nil
		},
	}

	cmd.Flags().StringVar(&selector, "selector", "", "Selector hex or function signature")
	cmd.Flags().StringVar(&executor, "executor", "", "Caller address")
	cmd.Flags().StringVar(&target, "target", "", "Gateway (vault) address")
	_ = cmd.MarkFlagRequired("selector")
	_ = cmd.MarkFlagRequired("executor")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newEncodeCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build canonical execute(target, data) calldata",
	}
	cmd.PersistentFlags().StringVar(&target, "target", "", "Gateway (vault) address")
	_ = cmd.MarkPersistentFlagRequired("target")

	var token, recipient, amount string
	withdraw := &cobra.Command{
		Use:   "withdraw",
		Short: "execute(target, withdraw(token, recipient, amount))",
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(map[string]string{"target": target, "token": token, "recipient": recipient})
			if err != nil {
				return err
			}
			amt, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return fmt.Errorf("--amount: invalid decimal %q", amount)
			}
			inner, err := vault.WithdrawMethod.Pack(addrs["token"], addrs["recipient"], amt)
			if err != nil {
				return err
			}
			return printExecute(cmd.OutOrStdout(), addrs["target"], inner)
		},
	}
	withdraw.Flags().StringVar(&token, "token", "", "Token address")
	withdraw.Flags().StringVar(&recipient, "recipient", "", "Recipient address")
	withdraw.Flags().StringVar(&amount, "amount", "", "Amount in base units (decimal)")

	var receiver, sweepToken string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "execute(target, sweepFunds(receiver, token))",
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(map[string]string{"target": target, "receiver": receiver, "token": sweepToken})
			if err != nil {
				return err
			}
			inner, err := vault.SweepFundsMethod.Pack(addrs["receiver"], addrs["token"])
			if err != nil {
				return err
			}
			return printExecute(cmd.OutOrStdout(), addrs["target"], inner)
		},
	}
	sweep.Flags().StringVar(&receiver, "receiver", "", "Receiver address")
	sweep.Flags().StringVar(&sweepToken, "token", "", "Token address")

	cmd.AddCommand(withdraw, sweep)
	return cmd
}

func parseAddresses(in map[string]string) (map[string]abi.Address, error) {
	out := make(map[string]abi.Address, len(in))
	for name, raw := range in {
		a, err := abi.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		out[name] = a
	}
	return out, nil
}

func printExecute(w io.Writer, target abi.Address, inner []byte) error {
	calldata, err := engine.ExecuteMethod.Pack(target, inner)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "0x"+hex.EncodeToString(calldata))
	return nil
}

type decodedCall struct {
	Target    string   `json:"target"`
	Selector  string   `json:"selector"`
	Method    string   `json:"method,omitempty"`
	Args      []string `json:"args,omitempty"`
	Canonical bool     `json:"canonical"`
	// Что увидел бы читатель по фиксированному смещению 4+32*3
	FixedOffsetSelector string `json:"fixed_offset_selector,omitempty"`
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <calldata-hex>",
		Short: "Decode execute calldata the way the gateway does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calldata, err := abi.DecodeHex(args[0])
			if err != nil {
				return err
			}
			out, err := decodeExecute(calldata)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func decodeExecute(calldata []byte) (*decodedCall, error) {
	outer, err := abi.Decode(calldata, engine.ExecuteMethod.Inputs...)
	if err != nil {
		return nil, err
	}
	if outer.Selector != engine.ExecuteMethod.Selector() {
		return nil, fmt.Errorf("%w: got selector %s", engine.ErrNotExecute, outer.Selector)
	}
	data := outer.Args[1].([]byte)
	out := &decodedCall{Target: outer.Args[0].(abi.Address).Hex()}

	canonical, err := abi.Encode(outer, engine.ExecuteMethod.Inputs...)
	out.Canonical = err == nil && bytes.Equal(canonical, calldata)

	const fixed = abi.SelectorSize + 3*abi.WordSize
	if len(calldata) >= fixed+abi.SelectorSize {
		var s abi.Selector
		copy(s[:], calldata[fixed:])
		out.FixedOffsetSelector = s.String()
	}

	sel, region, err := abi.SplitSelector(data)
	if err != nil {
		return nil, err
	}
	out.Selector = sel.String()
	for _, m := range knownMethods {
		if m.Selector() != sel {
			continue
		}
		out.Method = m.Signature()
		vals, err := abi.DecodeArgs(region, m.Inputs...)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			out.Args = append(out.Args, fmt.Sprint(v))
		}
	}
	return out, nil
}

func newTokenCmd() *cobra.Command {
	var keyPath, address string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an RS256 token for a caller address",
		RunE: func(cmd *cobra.Command, args []string) error {
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("reading private key: %w", err)
			}
			key, err := auth.ParseRSAPrivateKey(pem)
			if err != nil {
				return err
			}
			caller, err := abi.ParseAddress(address)
			if err != nil {
				return fmt.Errorf("--address: %w", err)
			}
			tok, err := auth.NewSigner(key, ttl).Issue(caller)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Path to RSA private key (PEM)")
	cmd.Flags().StringVar(&address, "address", "", "Caller address embedded into the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newSendCmd() *cobra.Command {
	var url, token string

	cmd := &cobra.Command{
		Use:   "send <calldata-hex>",
		Short: "POST calldata to the gateway /v1/execute endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(engine.ExecuteRequest{Calldata: args[0]})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimSuffix(url, "/")+"/v1/execute", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
			if err != nil {
				return fmt.Errorf("connecting to gateway at %s: %w", url, err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", resp.StatusCode, bytes.TrimSpace(respBody))
			if resp.StatusCode >= 400 {
				return fmt.Errorf("gateway returned %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "Gateway base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("GWCTL_TOKEN"), "Bearer token (default $GWCTL_TOKEN)")
	return cmd
}
