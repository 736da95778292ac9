package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLendingLiquidationRecord(t *testing.T) {
	evt := LendingLiquidation{
		Liquidator:       common.HexToAddress("0x01"),
		User:             common.HexToAddress("0x02"),
		DebtAsset:        common.HexToAddress("0x03"),
		CollateralAsset:  common.HexToAddress("0x04"),
		DebtRepaid:       big.NewInt(250),
		CollateralSeized: big.NewInt(275),
		HealthFactor:     big.NewInt(900),
		Timestamp:        42,
	}.Record()
	if evt.Type != TypeLendingLiquidation {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["debtRepaid"] != "250" || evt.Attributes["collateralSeized"] != "275" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["user"] != common.HexToAddress("0x02").Hex() {
		t.Fatalf("unexpected user attr: %s", evt.Attributes["user"])
	}
	if evt.Attributes["timestamp"] != "42" {
		t.Fatalf("unexpected timestamp: %s", evt.Attributes["timestamp"])
	}
}

func TestLendingDepositRecordDefaults(t *testing.T) {
	evt := LendingDeposit{}.Record()
	if evt.Attributes["amount"] != "0" {
		t.Fatalf("expected zero amount, got %s", evt.Attributes["amount"])
	}
	if evt.Attributes["user"] != "" {
		t.Fatalf("expected empty user, got %s", evt.Attributes["user"])
	}
}

func TestFanoutForwardsInOrder(t *testing.T) {
	var fan Fanout
	first, second := &Recorder{}, &Recorder{}
	fan.Add(first)
	fan.Add(nil)
	fan.Add(second)
	fan.Emit(LendingWithdraw{Amount: big.NewInt(1)})
	fan.Emit(LendingRepay{Amount: big.NewInt(2)})
	for _, rec := range []*Recorder{first, second} {
		got := rec.Events()
		if len(got) != 2 || got[0].EventType() != TypeLendingWithdraw || got[1].EventType() != TypeLendingRepay {
			t.Fatalf("unexpected events: %+v", got)
		}
	}
}
