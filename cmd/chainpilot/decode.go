package main

import (
	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/config"
)

// decodeTransferParams converts a step's raw parameter map into
// agent.TransferParams, the tagged parameter type AssetTransferAgent.Transfer
// expects.
func decodeTransferParams(parameters map[string]interface{}) (interface{}, error) {
	address, _ := parameters["address"].(string)
	recipient, _ := parameters["recipient"].(string)
	validateBalance, _ := parameters["validateBalance"].(bool)
	keepAlive, _ := parameters["keepAlive"].(bool)
	return agent.TransferParams{
		Address:         address,
		Recipient:       recipient,
		Amount:          parameters["amount"],
		Chain:           config.ChainRoleAssetHub,
		KeepAlive:       keepAlive,
		ValidateBalance: validateBalance,
	}, nil
}

// decodeBatchTransferParams converts a step's raw parameter map into
// agent.BatchTransferParams.
func decodeBatchTransferParams(parameters map[string]interface{}) (interface{}, error) {
	address, _ := parameters["address"].(string)
	validateBalance, _ := parameters["validateBalance"].(bool)
	keepAlive, _ := parameters["keepAlive"].(bool)
	atomic, _ := parameters["atomic"].(bool)

	rawLegs, _ := parameters["transfers"].([]interface{})
	legs := make([]agent.BatchLeg, 0, len(rawLegs))
	for _, raw := range rawLegs {
		legMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		recipient, _ := legMap["recipient"].(string)
		legs = append(legs, agent.BatchLeg{Recipient: recipient, Amount: legMap["amount"]})
	}

	return agent.BatchTransferParams{
		Address:         address,
		Transfers:       legs,
		Chain:           config.ChainRoleAssetHub,
		KeepAlive:       keepAlive,
		Atomic:          atomic,
		ValidateBalance: validateBalance,
	}, nil
}
