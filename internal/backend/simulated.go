package backend

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SimulatedConsignmentType marks artifacts that did not come from a real transfer.
const SimulatedConsignmentType = "simulated-consignment"

// SimulatedConsignment is the artifact synthesized when the fallback is enabled.
type SimulatedConsignment struct {
	Type       string    `json:"type"`
	Simulated  bool      `json:"simulated"`
	Network    string    `json:"network"`
	OrderID    string    `json:"order_id"`
	UnitAmount int64     `json:"unit_amount"`
	Timestamp  time.Time `json:"timestamp"`
	Hash       string    `json:"hash"`
}

// NewSimulatedConsignment builds the simulated artifact and returns it base64-encoded.
// The hash is sha256("<orderID>-<unitCount>") so repeated fallbacks for one order agree.
func NewSimulatedConsignment(network, orderID string, unitCount, unitAmount int64, now time.Time) (string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", orderID, unitCount)))

	data, err := json.Marshal(SimulatedConsignment{
		Type:       SimulatedConsignmentType,
		Simulated:  true,
		Network:    network,
		OrderID:    orderID,
		UnitAmount: unitAmount,
		Timestamp:  now.UTC(),
		Hash:       hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
