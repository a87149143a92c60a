package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	url      string
	nonce    uint64
	askNonce bool
	to       string
	amount   uint64
	fee      uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and send a transfer",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	from := storage.AddressOf(privateKey.PublicKey)

	toAddr, err := storage.ToAddress(to)
	if err != nil {
		log.Fatal(err)
	}

	// Unless the caller pinned a nonce, ask the node what the chain expects
	// from this account next.
	if askNonce {
		accounts, err := queryAccount(from)
		if err != nil {
			log.Fatal(err)
		}
		if len(accounts.Accounts) > 0 {
			nonce = accounts.Accounts[0].NextNonce
		}
	}

	outputs := []storage.Output{{Amount: amount, Address: toAddr}}
	tx := storage.New(from, nonce, privateKey.PublicKey, outputs, fee, nil)

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		log.Fatal(err)
	}

	data, err := json.Marshal(signedTx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	fmt.Println("status:", resp.Status)
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction (default: ask the node).")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address to send to.")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 1, "Fee for the miner.")

	askNonce = true
	sendCmd.PreRun = func(cmd *cobra.Command, args []string) {
		askNonce = !cmd.Flags().Changed("nonce")
	}
}
