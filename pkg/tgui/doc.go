// Package tgui builds Telegram messages for ParseMode="HTML".
//
// Values of type H are already escaped; plain strings go through Esc or one
// of the tag helpers. Telegram counts its length limit on the visible text,
// so truncate before escaping.
package tgui
