package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradewindhq/tradewind/internal/pkg/env"
)

// BillingMailData carries the fields the billing email templates render.
type BillingMailData struct {
	CustomerName  string
	CustomerEmail string
	PlanName      string
	Amount        string
	Currency      string
	PaymentMethod string
	PeriodEnd     *time.Time
	TrialEnd      *time.Time
}

func (d *BillingMailData) displayName() string {
	if d.CustomerName == "" {
		return "Customer"
	}
	return d.CustomerName
}

func (d *BillingMailData) displayAmount() string {
	if d.Amount == "" || d.Amount == "0.00" {
		return ""
	}
	return fmt.Sprintf("%s %s", d.Amount, strings.ToUpper(d.Currency))
}

func (d *BillingMailData) displayPaymentMethod() string {
	if d.PaymentMethod == "" {
		return "Credit Card"
	}
	return d.PaymentMethod
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("January 2, 2006")
}

func billingPortalURL() string {
	return fmt.Sprintf("%s/account/billing", env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000"))
}

func renderBillingEmail(title string, paragraphs []string) string {
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family: Arial, sans-serif; color: #333;\">")
	fmt.Fprintf(&b, "<h2>%s</h2>", title)
	for _, p := range paragraphs {
		if p == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", p)
	}
	fmt.Fprintf(&b, "<p><a href=\"%s\">Manage your subscription</a></p>", billingPortalURL())
	b.WriteString("</body></html>")
	return b.String()
}

// SendNewSubscriptionEmail welcomes a customer to their new plan.
func SendNewSubscriptionEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
		fmt.Sprintf("Your subscription to <strong>%s</strong> is now active. Thank you for subscribing!", data.PlanName),
	}
	if amount := data.displayAmount(); amount != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("You will be billed %s per billing period via %s.", amount, data.displayPaymentMethod()))
	}
	if date := formatDate(data.TrialEnd); date != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("Your trial runs until %s.", date))
	}
	body := renderBillingEmail("Welcome aboard!", paragraphs)
	return SendMail(data.CustomerEmail, "Your subscription is active", body)
}

// SendSubscriptionUpdatedEmail confirms a plan or billing change.
func SendSubscriptionUpdatedEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
		fmt.Sprintf("Your subscription was updated. Current plan: <strong>%s</strong>.", data.PlanName),
	}
	if amount := data.displayAmount(); amount != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("The new price is %s per billing period.", amount))
	}
	body := renderBillingEmail("Subscription updated", paragraphs)
	return SendMail(data.CustomerEmail, "Your subscription was updated", body)
}

// SendSubscriptionCancelledEmail confirms the cancellation and names the
// access end date when known.
func SendSubscriptionCancelledEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
		fmt.Sprintf("Your subscription to <strong>%s</strong> has been cancelled.", data.PlanName),
	}
	if date := formatDate(data.PeriodEnd); date != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("You keep access until %s.", date))
	} else {
		paragraphs = append(paragraphs, "Your access has ended.")
	}
	paragraphs = append(paragraphs, "We are sorry to see you go. You can resubscribe at any time.")
	body := renderBillingEmail("Subscription cancelled", paragraphs)
	return SendMail(data.CustomerEmail, "Your subscription was cancelled", body)
}

// SendPaymentSucceededEmail is the payment receipt.
func SendPaymentSucceededEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
	}
	if amount := data.displayAmount(); amount != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("We received your payment of %s via %s.", amount, data.displayPaymentMethod()))
	} else {
		paragraphs = append(paragraphs, "We received your payment.")
	}
	if date := formatDate(data.PeriodEnd); date != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("Your subscription is paid through %s.", date))
	}
	body := renderBillingEmail("Payment received", paragraphs)
	return SendMail(data.CustomerEmail, "Payment received", body)
}

// SendPaymentFailedEmail asks the customer to update their payment method.
func SendPaymentFailedEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
		fmt.Sprintf("We could not collect the payment for your <strong>%s</strong> subscription.", data.PlanName),
		"Please check your payment method to keep your subscription active.",
	}
	body := renderBillingEmail("Payment failed", paragraphs)
	return SendMail(data.CustomerEmail, "Action required: payment failed", body)
}

// SendTrialEndingEmail warns that the trial converts to a paid plan soon.
func SendTrialEndingEmail(data BillingMailData) error {
	paragraphs := []string{
		fmt.Sprintf("Hi %s,", data.displayName()),
	}
	if date := formatDate(data.TrialEnd); date != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("Your trial of <strong>%s</strong> ends on %s.", data.PlanName, date))
	} else {
		paragraphs = append(paragraphs, fmt.Sprintf("Your trial of <strong>%s</strong> is ending soon.", data.PlanName))
	}
	if amount := data.displayAmount(); amount != "" {
		paragraphs = append(paragraphs, fmt.Sprintf("Afterwards your plan continues at %s per billing period.", amount))
	}
	body := renderBillingEmail("Your trial is ending", paragraphs)
	return SendMail(data.CustomerEmail, "Your trial is ending soon", body)
}
