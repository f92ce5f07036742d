package responder

import "testing"

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		message string
		want    Intent
	}{
		{"你好", IntentGreeting},
		{"hello there", IntentGreeting},
		{"我的订单到哪了", IntentOrder},
		{"帮我查一下 ORD-20250601-0001", IntentOrder},
		{"ord-20250601-0001 状态", IntentOrder},
		{"我要退货", IntentAfterSales},
		{"我要投诉你们的客服", IntentComplaint},
		{"发货要几天", IntentLogistics},
		{"这个手机多少钱", IntentPrice},
		{"推荐一款笔记本", IntentProduct},
		{"今天天气怎么样", IntentGeneral},
	}

	for _, tt := range tests {
		if got := ClassifyIntent(tt.message); got != tt.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}

func TestExtractOrderID(t *testing.T) {
	if got := ExtractOrderID("查询 ORD-20250601-0001 的状态"); got != "ORD-20250601-0001" {
		t.Errorf("Expected order ID, got %q", got)
	}
	if got := ExtractOrderID("ord-20250601-0002"); got != "ORD-20250601-0002" {
		t.Errorf("Expected uppercased order ID, got %q", got)
	}
	if got := ExtractOrderID("没有订单号"); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
}
