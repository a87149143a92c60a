package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type accountInfo struct {
	Account   string `json:"account"`
	Name      string `json:"name"`
	Balance   uint64 `json:"balance"`
	NextNonce uint64 `json:"next_nonce"`
}

type accountsResponse struct {
	LatestBlock string        `json:"latest_block"`
	ChainLength uint64        `json:"chain_length"`
	Accounts    []accountInfo `json:"accounts"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your confirmed balance.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	addr := storage.AddressOf(privateKey.PublicKey)
	fmt.Println("For Account:", addr)

	accounts, err := queryAccount(addr)
	if err != nil {
		log.Fatal(err)
	}

	if len(accounts.Accounts) > 0 {
		fmt.Println(accounts.Accounts[0].Balance)
	}
}

func queryAccount(addr storage.Address) (accountsResponse, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/accounts/list/%s", url, addr))
	if err != nil {
		return accountsResponse{}, err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	var accounts accountsResponse
	if err := decoder.Decode(&accounts); err != nil {
		return accountsResponse{}, err
	}

	return accounts, nil
}
