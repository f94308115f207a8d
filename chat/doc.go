// Package chat runs the Twitch IRC bot: it joins every configured
// broadcaster's channel and answers !-prefixed commands with data from the
// weather, word-of-the-day and Analogue store repositories, plus static
// profile links from the users file.
//
// Commands are rate limited per channel with small TTL caches (the cooldown
// is the TTL: a cache hit means the command fired too recently). A login
// authentication failure from IRC nudges the credential validator to run a
// cycle immediately.
package chat
