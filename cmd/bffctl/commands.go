package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jzx17/bffkit/internal/llm"
	"github.com/jzx17/bffkit/internal/oauth"
	"github.com/jzx17/bffkit/internal/objectstore"
	"github.com/jzx17/bffkit/pkg/types"
)

func (a *app) newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Fetch an access token with the client-credentials grant",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetcher, err := a.deps.newFetcher(a.cfg.OAuth)
			if err != nil {
				return err
			}

			opts := []oauth.Option{
				oauth.WithExecutor(a.executor),
				oauth.WithExpirySkew(a.cfg.OAuth.ExpirySkew()),
				oauth.WithLogger(a.logger),
			}
			if rc, ok := a.cfg.Retry.Lookup(oauth.RetryProfile); ok {
				opts = append(opts, oauth.WithRetryConfig(rc))
			}

			manager, err := oauth.NewTokenManager(fetcher, opts...)
			if err != nil {
				return err
			}

			token, err := manager.AccessToken(cmd.Context()).Get()
			if err != nil {
				return err
			}

			fmt.Fprintln(a.stdout, token)
			return nil
		},
	}
}

func (a *app) newObjectCmd() *cobra.Command {
	objectCmd := &cobra.Command{
		Use:   "object",
		Short: "Read and write objects in the configured bucket",
		Args:  exactArgs(0),
		RunE:  showHelp,
	}

	var output string
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Download an object to stdout or a file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd)
			if err != nil {
				return err
			}

			body, err := store.Get(cmd.Context(), args[0]).Get()
			if err != nil {
				return err
			}

			if output == "" {
				_, err = a.stdout.Write(body)
				return err
			}
			return os.WriteFile(output, body, 0o644)
		},
	}
	getCmd.Flags().StringVarP(&output, "output", "o", "", "Write the object to this file instead of stdout.")

	var contentType string
	putCmd := &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Upload a file and print the ETag",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
			}

			store, err := a.store(cmd)
			if err != nil {
				return err
			}

			etag, err := store.Put(cmd.Context(), args[0], body, contentType).Get()
			if err != nil {
				return err
			}

			fmt.Fprintln(a.stdout, etag)
			return nil
		},
	}
	putCmd.Flags().StringVar(&contentType, "content-type", "", "Content type of the object, detected when empty.")

	objectCmd.AddCommand(getCmd, putCmd)
	return objectCmd
}

func (a *app) store(cmd *cobra.Command) (*objectstore.Store, error) {
	api, err := a.deps.newObjectAPI(cmd.Context(), a.cfg.Storage)
	if err != nil {
		return nil, err
	}

	return objectstore.New(api, a.cfg.Storage.Bucket,
		objectstore.WithExecutor(a.executor),
		objectstore.WithRetryConfig(a.retryConfig(objectstore.RetryProfile, objectstore.DefaultRetryConfig())),
		objectstore.WithLogger(a.logger),
	)
}

func (a *app) newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Send a prompt to the chat completion provider",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []llm.Option{
				llm.WithExecutor(a.executor),
				llm.WithRetryConfig(a.retryConfig(llm.RetryProfile, llm.DefaultRetryConfig())),
				llm.WithLogger(a.logger),
			}
			if a.deps.newChatAPI != nil {
				api, err := a.deps.newChatAPI(a.cfg.LLM)
				if err != nil {
					return err
				}
				opts = append(opts, llm.WithChatAPI(api))
			}

			client, err := llm.New(a.cfg.LLM, opts...)
			if err != nil {
				return err
			}

			completion, err := client.Complete(cmd.Context(), strings.Join(args, " ")).Get()
			if err != nil {
				return err
			}

			fmt.Fprintln(a.stdout, completion.Text)
			return nil
		},
	}
}
