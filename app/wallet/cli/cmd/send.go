package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kilnlabs/kiln/foundation/blockchain/database"
	"github.com/kilnlabs/kiln/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var (
	to    string
	value uint64
)

type output struct {
	OutputID database.OutputID  `json:"output_id"`
	Owner    database.AccountID `json:"owner"`
	Value    uint64             `json:"value"`
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send value to.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send.")
}

func sendRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	toAccountID, err := database.ToAccountID(to)
	if err != nil {
		log.Fatal(err)
	}

	if err := sendWithDetails(privateKey, toAccountID, value); err != nil {
		log.Fatal(err)
	}
}

func sendWithDetails(privateKey *ecdsa.PrivateKey, toAccountID database.AccountID, value uint64) error {
	gen, err := queryGenesis()
	if err != nil {
		return err
	}

	fromAccountID := database.PublicKeyToAccountID(privateKey.PublicKey)

	outputs, err := queryOutputs(fromAccountID)
	if err != nil {
		return err
	}

	inputs, change, err := selectOutputs(outputs, value)
	if err != nil {
		return err
	}

	txOutputs := []database.TxOutput{
		{OwnerID: toAccountID, Value: value},
	}
	if change > 0 {
		txOutputs = append(txOutputs, database.TxOutput{OwnerID: fromAccountID, Value: change})
	}

	tx, err := database.NewTx(gen.ChainID, inputs, txOutputs)
	if err != nil {
		return err
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	data, err := json.Marshal(signedTx)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected transaction: %s", resp.Status)
	}

	fmt.Println("Transaction submitted:", signedTx.SignatureString())
	return nil
}

// selectOutputs picks smallest-first outputs until the requested value is
// covered and returns the corresponding inputs along with the change owed
// back to the sender.
func selectOutputs(outputs []output, value uint64) ([]database.TxInput, uint64, error) {
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Value < outputs[j].Value })

	var inputs []database.TxInput
	var total uint64

	for _, out := range outputs {
		txID, index, err := database.ParseOutputID(out.OutputID)
		if err != nil {
			return nil, 0, err
		}

		inputs = append(inputs, database.TxInput{TxID: txID, OutIndex: index})
		total += out.Value

		if total >= value {
			return inputs, total - value, nil
		}
	}

	return nil, 0, fmt.Errorf("insufficient funds: have %d, need %d", total, value)
}

func queryGenesis() (genesis.Genesis, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/genesis/list", url))
	if err != nil {
		return genesis.Genesis{}, err
	}
	defer resp.Body.Close()

	var gen genesis.Genesis
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return genesis.Genesis{}, err
	}

	return gen, nil
}

func queryOutputs(accountID database.AccountID) ([]output, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/outputs/list/%s", url, accountID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var outputs []output
	if err := json.NewDecoder(resp.Body).Decode(&outputs); err != nil {
		return nil, err
	}

	return outputs, nil
}
