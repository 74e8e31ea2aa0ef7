// Package router implements the pure intent classifier of spec.md §4.4.
// Classify never performs I/O; all side effects live in the retrieval
// wrappers the gateway selects based on its result.
package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
)

// Classification is the router's verdict for one utterance: the
// top-level intent plus the detail the retrieval strategy needs
// (whether a cart mutation was requested, which order id was mentioned,
// which merchandise line a cart mutation names).
type Classification struct {
	Intent        domain.Intent
	CartMutate    bool
	OrderID       string
	MerchandiseID string
	Quantity      int
}

var productNouns = []string{
	"ring", "rings", "necklace", "necklaces", "bracelet", "bracelets",
	"earring", "earrings", "pendant", "pendants", "bangle", "bangles",
	"anklet", "anklets", "brooch", "chain", "chains", "jewelry", "jewellery",
}

var materialNouns = []string{
	"gold", "silver", "platinum", "diamond", "diamonds", "gemstone", "gem",
	"pearl", "pearls", "sapphire", "ruby", "emerald", "titanium",
}

var purchaseVerbs = []string{
	"buy", "purchase", "show me", "looking for", "browse", "shop for",
	"price of", "how much", "do you have", "find me",
}

var cartVerbs = []string{
	"cart", "basket", "checkout", "what's in my cart", "whats in my cart",
}

var cartMutateVerbs = []string{
	"add", "remove", "delete", "update", "change the quantity", "take out",
}

var orderPhrases = []string{
	"order status", "my order", "track my order", "where is my order",
	"shipment", "tracking", "delivery status", "order #", "has my order shipped",
	"has it shipped",
}

var policyWords = []string{
	"policy", "return", "refund", "warranty", "shipping", "exchange", "faq",
	"how long does", "do you ship",
}

var orderIDPattern = regexp.MustCompile(`#\s*([A-Za-z0-9-]{3,20})|\border\s+(?:number\s+)?([A-Za-z0-9-]{4,20})\b`)

// merchandiseIDPattern matches a short alphanumeric SKU/variant token
// such as "m1" or "sku-204", the shape catalog systems commonly hand
// back to a storefront widget as a merchandiseId.
var merchandiseIDPattern = regexp.MustCompile(`\b([A-Za-z]{1,4}-?\d{1,10}[A-Za-z0-9]*)\b`)

// quantityPattern matches a leading quantity next to a merchandise
// token, e.g. "add 2 m1 to cart".
var quantityPattern = regexp.MustCompile(`\b(\d{1,4})\s+[A-Za-z]{1,4}-?\d`)

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Classify assigns one of {product, cart, order, policy, general} to an
// utterance using case-insensitive keyword matching. An explicit cart
// mention outranks a product noun also present in the same utterance
// (e.g. "add a ring to my cart" is a cart action on a ring, not a
// product lookup); after that, ties are broken in priority order:
// cart, product, order, policy, general.
func Classify(utterance string) Classification {
	lower := strings.ToLower(utterance)

	isProduct := containsAny(lower, productNouns) || containsAny(lower, materialNouns) || containsAny(lower, purchaseVerbs)
	isCart := containsAny(lower, cartVerbs)
	isOrder := containsAny(lower, orderPhrases)
	isPolicy := containsAny(lower, policyWords)

	switch {
	case isCart:
		mutate := containsAny(lower, cartMutateVerbs)
		c := Classification{Intent: domain.IntentCart, CartMutate: mutate}
		if mutate {
			c.MerchandiseID, c.Quantity = extractMerchandiseLine(utterance)
		}
		return c
	case isProduct:
		return Classification{Intent: domain.IntentProduct}
	case isOrder:
		return Classification{Intent: domain.IntentOrder, OrderID: extractOrderID(utterance)}
	case isPolicy:
		return Classification{Intent: domain.IntentPolicy}
	default:
		return Classification{Intent: domain.IntentGeneral}
	}
}

// extractOrderID pulls a likely order identifier out of an utterance,
// e.g. "#A1B2C3" or "order number 48213". Returns "" if none is found.
func extractOrderID(utterance string) string {
	m := orderIDPattern.FindStringSubmatch(utterance)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// extractMerchandiseLine pulls a merchandiseId and quantity out of a
// cart-mutate utterance, e.g. "add 2 m1 to cart" -> ("m1", 2) and
// "add m1 to cart" -> ("m1", 1). Returns ("", 0) if no merchandise
// token is found, leaving the caller to fall back to a bare cart
// refresh.
func extractMerchandiseLine(utterance string) (string, int) {
	idMatch := merchandiseIDPattern.FindStringSubmatch(utterance)
	if idMatch == nil {
		return "", 0
	}

	quantity := 1
	if qMatch := quantityPattern.FindStringSubmatch(utterance); qMatch != nil {
		if n, err := strconv.Atoi(qMatch[1]); err == nil && n > 0 {
			quantity = n
		}
	}
	return idMatch[1], quantity
}
