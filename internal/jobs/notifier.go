package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/makemelearn/api/internal/domain/registrations"
)

// Inserter is the part of *river.Client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// QueueNotifier enqueues a verification_email job for each notification.
type QueueNotifier struct {
	client Inserter
	policy *RetryPolicy
}

func NewQueueNotifier(client Inserter, policy *RetryPolicy) *QueueNotifier {
	return &QueueNotifier{client: client, policy: policy}
}

func (n *QueueNotifier) NotifyVerification(ctx context.Context, reg registrations.Registration) error {
	args, err := verificationArgs(reg)
	if err != nil {
		return err
	}
	if _, err := n.client.Insert(ctx, args, n.policy.InsertOpts(JobKindVerificationEmail)); err != nil {
		return fmt.Errorf("enqueue verification email: %w", err)
	}
	return nil
}

// DirectNotifier sends the verification email inline. It is used when the job queue is
// disabled.
type DirectNotifier struct {
	sender VerificationSender
	links  Links
}

func NewDirectNotifier(sender VerificationSender, links Links) *DirectNotifier {
	return &DirectNotifier{sender: sender, links: links}
}

func (n *DirectNotifier) NotifyVerification(ctx context.Context, reg registrations.Registration) error {
	args, err := verificationArgs(reg)
	if err != nil {
		return err
	}
	if _, err := n.sender.SendVerification(ctx, args.Email, n.links.Verification(args.Token, args.Email)); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

func verificationArgs(reg registrations.Registration) (VerificationEmailArgs, error) {
	if reg.VerificationToken == nil {
		return VerificationEmailArgs{}, fmt.Errorf("registration %s has no verification token", reg.ID)
	}
	return VerificationEmailArgs{
		RegistrationID: reg.ID.String(),
		Email:          reg.Email,
		Token:          reg.VerificationToken.String(),
	}, nil
}
