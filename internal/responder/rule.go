package responder

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/careline/careline/internal/kb"
	"github.com/careline/careline/internal/store"
)

// DefaultCollection is the knowledge-base collection consulted for
// product and after-sales answers.
const DefaultCollection = "knowledge"

// streamFragmentRunes is the fragment size RuleResponder uses when it
// simulates streaming of a long reply.
const streamFragmentRunes = 48

// RuleResponder is the demo fallback: intent-routed canned replies,
// order lookups against the seeded orders table, and knowledge-base
// search with a citation trailer. It needs no external LLM service.
type RuleResponder struct {
	repo   store.Repository
	search *kb.Service
}

// NewRuleResponder creates the rule-based responder.
func NewRuleResponder(repo store.Repository, search *kb.Service) *RuleResponder {
	return &RuleResponder{repo: repo, search: search}
}

var greetingReply = "您好！欢迎使用我们的客服系统，我是智能客服助手，很高兴为您服务。请问有什么可以帮助您的吗？"

var cannedReplies = map[Intent]string{
	IntentPrice: "关于价格，不同品牌和型号的产品价格差异较大。建议您先确定具体的产品型号，" +
		"我可以为您查询最新的价格信息。我们的产品价格都是市场竞争力价格，支持多种支付方式。",
	IntentLogistics: "我们支持全国包邮，一般3-7个工作日送达，偏远地区可能需要5-10个工作日。" +
		"物流信息可以通过订单号查询，我们会及时更新发货状态和物流信息。",
	IntentAfterSales: "我们提供7天无理由退货，15天换货，终身保修服务。具体保修政策根据产品不同有所差异。" +
		"如果您收到商品后发现质量问题，请及时联系客服，我们会协助您处理退换货事宜。",
	IntentComplaint: "非常抱歉给您带来了不好的体验。您的反馈对我们非常重要，我已经记录您的意见，" +
		"相关同事会尽快跟进处理。您也可以拨打服务热线 400-123-4567 进一步反馈。",
	IntentGeneral: "感谢您的咨询。请您补充一些细节，例如具体的产品型号或订单号，我会为您提供更准确的帮助。",
}

// Stream generates a reply. Short canned replies are yielded as one
// fragment; order and knowledge answers are yielded in fragments to
// exercise the streaming path.
func (r *RuleResponder) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		intent := ClassifyIntent(req.Message)

		switch intent {
		case IntentGreeting:
			yield(greetingReply, nil)
		case IntentOrder:
			reply, err := r.orderReply(ctx, req)
			if err != nil {
				yield("", err)
				return
			}
			yieldFragments(yield, reply)
		case IntentProduct, IntentGeneral:
			reply, err := r.knowledgeReply(ctx, req.Message, intent)
			if err != nil {
				yield("", err)
				return
			}
			yieldFragments(yield, reply)
		default:
			yield(cannedReplies[intent], nil)
		}
	}
}

func (r *RuleResponder) orderReply(ctx context.Context, req Request) (string, error) {
	orderID := ExtractOrderID(req.Message)
	if orderID == "" {
		return "请提供您的订单号（格式如 ORD-20250601-0001），我来为您查询订单状态。", nil
	}

	order, err := r.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("look up order %s: %w", orderID, err)
	}
	if order == nil {
		return fmt.Sprintf("抱歉，没有找到订单 %s。请核对订单号后重试，或联系人工客服处理。", orderID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "为您查询到订单 %s 的信息：\n", order.OrderID)
	fmt.Fprintf(&sb, "商品：%s × %d\n", order.ProductName, order.Quantity)
	fmt.Fprintf(&sb, "金额：¥%.2f\n", float64(order.AmountCents)/100)
	fmt.Fprintf(&sb, "状态：%s\n", orderStatusLabel(order.Status))
	if order.TrackingNo != "" {
		fmt.Fprintf(&sb, "物流：%s %s\n", order.Carrier, order.TrackingNo)
	}
	sb.WriteString("如需修改或取消订单，请告诉我您的需求。")
	return sb.String(), nil
}

func orderStatusLabel(status string) string {
	switch status {
	case "pending":
		return "待付款"
	case "processing":
		return "处理中"
	case "shipped":
		return "已发货"
	case "delivered":
		return "已送达"
	case "cancelled":
		return "已取消"
	case "refunding":
		return "退款中"
	default:
		return status
	}
}

func (r *RuleResponder) knowledgeReply(ctx context.Context, message string, intent Intent) (string, error) {
	results, err := r.search.Search(ctx, DefaultCollection, message, 3, "")
	if err != nil {
		// Knowledge search is best effort; fall back to the canned reply.
		slog.Warn("knowledge search failed", "error", err)
		results = nil
	}

	if len(results) == 0 {
		if intent == IntentProduct {
			return "我们主营各类智能手机、笔记本电脑和平板产品，品牌涵盖苹果、华为、小米、联想、戴尔等。" +
				"您想了解哪类产品？我可以为您介绍具体型号和配置。", nil
		}
		return cannedReplies[IntentGeneral], nil
	}

	var sb strings.Builder
	sb.WriteString("根据知识库资料，为您整理了以下信息：\n\n")
	for _, res := range results {
		sb.WriteString(previewOf(res.Chunk.Content))
		sb.WriteString("\n")
	}
	sb.WriteString("\n如需更详细的说明，请告诉我具体关注点。")

	trailer, _ := FormatReferences(results)
	sb.WriteString(trailer)
	return sb.String(), nil
}

// yieldFragments splits a long reply into fixed-size rune fragments so
// the caller can stream it chunk by chunk.
func yieldFragments(yield func(string, error) bool, reply string) {
	runes := []rune(reply)
	if len(runes) <= streamFragmentRunes {
		yield(reply, nil)
		return
	}
	for start := 0; start < len(runes); start += streamFragmentRunes {
		end := start + streamFragmentRunes
		if end > len(runes) {
			end = len(runes)
		}
		if !yield(string(runes[start:end]), nil) {
			return
		}
	}
}
