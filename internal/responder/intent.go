package responder

import (
	"regexp"
	"strings"
)

// Intent categorizes a user message for routing.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentOrder      Intent = "order"
	IntentProduct    Intent = "product"
	IntentPrice      Intent = "price"
	IntentLogistics  Intent = "logistics"
	IntentAfterSales Intent = "after_sales"
	IntentComplaint  Intent = "complaint"
	IntentGeneral    Intent = "general"
)

var orderIDPattern = regexp.MustCompile(`ORD-\d{8}-\d{4}`)

var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentOrder, []string{"订单", "物流单号", "我的包裹", "order", "ord-"}},
	{IntentAfterSales, []string{"退货", "退款", "换货", "维修", "保修", "质量问题", "refund", "return", "repair", "warranty"}},
	{IntentComplaint, []string{"投诉", "差评", "态度", "不满", "complaint", "complain"}},
	{IntentLogistics, []string{"物流", "发货", "快递", "配送", "几天到", "shipping", "delivery"}},
	{IntentPrice, []string{"价格", "多少钱", "优惠", "降价", "price", "cost", "discount"}},
	{IntentProduct, []string{"手机", "电脑", "平板", "笔记本", "参数", "配置", "推荐", "phone", "laptop", "tablet", "computer"}},
	{IntentGreeting, []string{"你好", "您好", "再见", "谢谢", "感谢", "hello", "hi", "thanks", "bye"}},
}

// ClassifyIntent routes a message by keyword rules. This is the
// fallback classifier of the demo responder; the LLM-backed responder
// uses it only to pick a system prompt.
func ClassifyIntent(message string) Intent {
	lower := strings.ToLower(message)
	if orderIDPattern.MatchString(strings.ToUpper(message)) {
		return IntentOrder
	}
	for _, rule := range intentKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// ExtractOrderID pulls an order number out of a message, or "" if none
// is present.
func ExtractOrderID(message string) string {
	return orderIDPattern.FindString(strings.ToUpper(message))
}
